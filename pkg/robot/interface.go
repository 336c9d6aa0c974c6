// Package robot provides the desk robot's physical collaborators: the
// two-axis servo head and the face state shown on its screen.
//
// Consumers depend only on the small interfaces they use. The function-call
// dispatcher needs HeadMover and FaceController; the dashboard subscribes
// to Face updates.
package robot

// HeadMover moves the head by a relative amount in servo steps.
type HeadMover interface {
	MoveHead(dx, dy int) error
}

// ServoDriver positions the two head servos at absolute step values.
type ServoDriver interface {
	SetPosition(x, y int) error
}

// FaceController changes the rendered face.
type FaceController interface {
	SetExpression(eyes, smile int) error
	SetMouth(shape MouthShape)
}

var (
	_ HeadMover      = (*Head)(nil)
	_ FaceController = (*Face)(nil)
	_ ServoDriver    = (*HTTPServoDriver)(nil)
	_ ServoDriver    = (*LogServoDriver)(nil)
)
