package layers

// Element is what a map control draws.
type Element struct {
	Kind  string `json:"kind"`
	Label string `json:"label"`
	Title string `json:"title"`
}

// Control is a map control bound to one map implementation.
type Control interface {
	Render() Element
	OnActivate()
}

// RecenterControl puts the viewport back on the widget's home position.
type RecenterControl struct {
	registry *Registry
	home     Viewport
}

func NewRecenterControl(r *Registry, home Viewport) *RecenterControl {
	return &RecenterControl{registry: r, home: home}
}

func (c *RecenterControl) Render() Element {
	return Element{Kind: "button", Label: "⌖", Title: "Recenter map"}
}

func (c *RecenterControl) OnActivate() {
	c.registry.SetViewport(c.home)
}
