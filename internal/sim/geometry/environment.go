package geometry

// Environment is the read-only map collaborator consumed by the simulator and
// the planners. Implementations must be deterministic: the same query always
// yields the same rectangles in the same order.
type Environment interface {
	// Bounds is the playable area covered by the map.
	Bounds() Rect
	// StaticCollisions returns every static collision rectangle touching region.
	StaticCollisions(region Rect) []Rect
	// FrameBox resolves an animation frame to its collision box, relative to
	// the entity origin. ok is false when the combination is not loaded.
	FrameBox(frameSet, frameState string, frame int) (box Rect, ok bool)
}

// Body is a dynamic collision box owned by an entity.
type Body struct {
	ID    string
	Box   Rect
	Solid bool
}

// DynamicQuery answers region queries over entity bodies. exclude holds
// entity ids that must not be reported.
type DynamicQuery interface {
	Bodies(region Rect, exclude map[string]struct{}) []Body
}
