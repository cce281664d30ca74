package httpapi

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-radar-loop/internal/radar"
	"github.com/i474232898/weather-radar-loop/internal/widget"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, manager *widget.Manager) {
	v1 := app.Group("/api/v1")

	v1.Get("/widgets", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"widgets": manager.Names()})
	})

	v1.Get("/widgets/:name", func(c *fiber.Ctx) error {
		state, err := widgetState(manager, c.Params("name"))
		if err != nil {
			return err
		}
		resp := fiber.Map{"widget": state}
		if f, ok := state.VisibleFrame(); ok {
			resp["visibleFrame"] = f
		}
		return c.JSON(resp)
	})

	v1.Get("/widgets/:name/layers", func(c *fiber.Ctx) error {
		name := c.Params("name")
		registry, err := manager.Registry(name)
		if err != nil {
			return lookupError(err)
		}
		control, err := manager.Control(name)
		if err != nil {
			return lookupError(err)
		}
		return c.JSON(fiber.Map{
			"viewport": registry.Viewport(),
			"layers":   registry.Layers(),
			"control":  control.Render(),
		})
	})

	v1.Get("/widgets/:name/tiles/:z/:x/:y", func(c *fiber.Ctx) error {
		var q tileQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		name := c.Params("name")
		w, err := manager.Get(name)
		if err != nil {
			return lookupError(err)
		}
		state, ok := w.State()
		if !ok {
			return fiber.NewError(fiber.StatusServiceUnavailable, "widget is stopped")
		}

		frame, ok := pickFrame(state, c.Query("frame"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no radar frame available")
		}

		tile := radar.TileAddress{Zoom: q.Z, Col: q.X, Row: q.Y}
		var images []radar.TileImage
		for _, src := range w.Provider().BuildTileSources(frame) {
			images = append(images, src.Images(tile)...)
		}
		return c.JSON(fiber.Map{
			"frame":  frame,
			"tile":   tile,
			"images": images,
		})
	})

	v1.Post("/widgets/:name/reset", func(c *fiber.Ctx) error {
		if err := manager.Reset(c.Params("name")); err != nil {
			return lookupError(err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "reset"})
	})

	v1.Post("/widgets/:name/recenter", func(c *fiber.Ctx) error {
		name := c.Params("name")
		control, err := manager.Control(name)
		if err != nil {
			return lookupError(err)
		}
		control.OnActivate()
		registry, err := manager.Registry(name)
		if err != nil {
			return lookupError(err)
		}
		return c.JSON(fiber.Map{"viewport": registry.Viewport()})
	})
}

func widgetState(manager *widget.Manager, name string) (widget.State, error) {
	w, err := manager.Get(name)
	if err != nil {
		return widget.State{}, lookupError(err)
	}
	state, ok := w.State()
	if !ok {
		return widget.State{}, fiber.NewError(fiber.StatusServiceUnavailable, "widget is stopped")
	}
	return state, nil
}

func lookupError(err error) error {
	if errors.Is(err, radar.ErrUnknownWidget) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, "failed to load widget")
}

// pickFrame returns the frame with the given id, or the visible frame.
func pickFrame(state widget.State, id string) (radar.Frame, bool) {
	if id == "" {
		return state.VisibleFrame()
	}
	for _, f := range state.Frames {
		if f.ID == id {
			return f, true
		}
	}
	return radar.Frame{}, false
}

// tileQuery holds the path parameters of a tile request.
type tileQuery struct {
	Z int `validate:"gte=0,lte=22"`
	X int `validate:"gte=0"`
	Y int `validate:"gte=0"`
}

func (q *tileQuery) bind(c *fiber.Ctx) error {
	var err error
	if q.Z, err = c.ParamsInt("z"); err != nil {
		return errors.New("z must be an integer")
	}
	if q.X, err = c.ParamsInt("x"); err != nil {
		return errors.New("x must be an integer")
	}
	if q.Y, err = c.ParamsInt("y"); err != nil {
		return errors.New("y must be an integer")
	}
	if err := validate.Struct(q); err != nil {
		return err
	}
	if limit := 1 << q.Z; q.X >= limit || q.Y >= limit {
		return fmt.Errorf("tile %d/%d/%d is outside the grid", q.Z, q.X, q.Y)
	}
	return nil
}
