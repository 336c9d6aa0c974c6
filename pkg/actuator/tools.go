package actuator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/teslashibe/go-deskman/pkg/robot"
)

// Head step offsets per direction, in servo steps.
var headSteps = map[string][2]int{
	"Up":    {0, 200},
	"Down":  {0, -200},
	"Left":  {800, 0},
	"Right": {-800, 0},
}

// Directions lists the move_head enum in schema order.
var Directions = []string{"Up", "Down", "Left", "Right"}

// decodeArgs unmarshals the argument string into v. Any decode failure,
// including a value of the wrong JSON type, wraps ErrBadArguments.
func decodeArgs(arguments string, v any) error {
	if strings.TrimSpace(arguments) == "" {
		return fmt.Errorf("%w: empty arguments", ErrBadArguments)
	}
	if err := json.Unmarshal([]byte(arguments), v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadArguments, err)
	}
	return nil
}

// MoveHeadTool points the head Up, Down, Left or Right.
func MoveHeadTool(head robot.HeadMover) Tool {
	return Tool{
		Name:        "move_head",
		Description: "Move your head to point more left, right, up, or down, to look in a direction.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"direction": map[string]any{
					"type":        "string",
					"description": "The direction to move.",
					"enum":        Directions,
				},
			},
			"required": []string{"direction"},
		},
		Handler: func(arguments string) (string, error) {
			var args struct {
				Direction *string `json:"direction"`
			}
			if err := decodeArgs(arguments, &args); err != nil {
				return "", err
			}
			if args.Direction == nil {
				return "", fmt.Errorf("%w: direction is required", ErrBadArguments)
			}
			step, ok := headSteps[*args.Direction]
			if !ok {
				return "", fmt.Errorf("%w: direction %q is not one of %s",
					ErrBadArguments, *args.Direction, strings.Join(Directions, ", "))
			}

			if err := head.MoveHead(step[0], step[1]); err != nil {
				return "", err
			}
			return fmt.Sprintf("Moved head %s", *args.Direction), nil
		},
	}
}

// MoveFaceTool changes the eye and smile parameters of the face.
func MoveFaceTool(face robot.FaceController) Tool {
	return Tool{
		Name:        "move_face",
		Description: "Change your facial expression. Positive eyes open them wider, positive smile makes you smile, negative values frown.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"eyes": map[string]any{
					"type":        "integer",
					"description": "Eye openness offset, for example -5 to 5.",
				},
				"smile": map[string]any{
					"type":        "integer",
					"description": "Smile offset, for example -5 to 5.",
				},
			},
			"required": []string{"eyes", "smile"},
		},
		Handler: func(arguments string) (string, error) {
			var args struct {
				Eyes  *int `json:"eyes"`
				Smile *int `json:"smile"`
			}
			if err := decodeArgs(arguments, &args); err != nil {
				return "", err
			}
			if args.Eyes == nil || args.Smile == nil {
				return "", fmt.Errorf("%w: eyes and smile are required", ErrBadArguments)
			}

			if err := face.SetExpression(*args.Eyes, *args.Smile); err != nil {
				return "", err
			}
			return fmt.Sprintf("Face set to eyes %d, smile %d", *args.Eyes, *args.Smile), nil
		},
	}
}

// DefaultTools returns the robot's tool set. A nil collaborator leaves its
// tool out.
func DefaultTools(head robot.HeadMover, face robot.FaceController) []Tool {
	var tools []Tool
	if head != nil {
		tools = append(tools, MoveHeadTool(head))
	}
	if face != nil {
		tools = append(tools, MoveFaceTool(face))
	}
	return tools
}
