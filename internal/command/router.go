// Package command decodes text command lines and dispatches them to the
// controller. It does no motion math beyond reading and signing numeric
// arguments.
package command

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cjeanneret/WinkGo/internal/debug"
	"github.com/cjeanneret/WinkGo/internal/logic/motion"
	"github.com/cjeanneret/WinkGo/internal/persist"
)

//go:embed schema/command.json
var commandSchemaJSON string

// Controller is what the router dispatches to. Every command maps to
// exactly one call.
type Controller interface {
	Status() Status
	Move(m motion.Motor, delta int) error
	PositionSet(left, right *int) error
	Center() error
	Animate() error
	MaxUp() error
	MaxDown() error
	Test() error
	Config() persist.Config
	SetConfig(p persist.Patch) (persist.Config, error)
}

// request is the decoded command object.
type request struct {
	Action    string `json:"action"`
	Steps     *int   `json:"steps"`
	Direction string `json:"direction"`
	Motor     string `json:"motor"`
	Left      *int   `json:"left"`
	Right     *int   `json:"right"`
	persist.Patch
}

type handler func(r *Router, req *request) any

// Router turns a command line into exactly one controller call and one
// response.
type Router struct {
	ctrl     Controller
	schema   *jsonschema.Schema
	handlers map[string]handler
}

// keywords accepted without JSON.
var keywords = map[string]bool{
	"status":  true,
	"center":  true,
	"animate": true,
	"test":    true,
}

func NewRouter(c Controller) (*Router, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("command.json", strings.NewReader(commandSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add command schema: %w", err)
	}
	schema, err := compiler.Compile("command.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile command schema: %w", err)
	}

	r := &Router{ctrl: c, schema: schema}
	r.handlers = map[string]handler{
		"status":       (*Router).status,
		"ping":         (*Router).ping,
		"move":         moveHandler(""),
		"move_left":    moveHandler(motion.Left),
		"move_right":   moveHandler(motion.Right),
		"move_both":    moveHandler(motion.Both),
		"position_set": (*Router).positionSet,
		"center":       simple((Controller).Center, "Moving to center"),
		"animate":      simple((Controller).Animate, "Animation started"),
		"max_up":       simple((Controller).MaxUp, "Moving to max"),
		"max_down":     simple((Controller).MaxDown, "Moving to min"),
		"test":         simple((Controller).Test, "Test move started"),
		"config_get":   (*Router).configGet,
		"config_set":   (*Router).configSet,
	}
	return r, nil
}

// Handle decodes one line and returns the response to send back.
func (r *Router) Handle(line string) any {
	line = strings.TrimSpace(line)
	if line == "" {
		return Error("empty command")
	}

	req, err := r.decode(line)
	if err != nil {
		debug.Live("Rejected command %q: %v", line, err)
		return Error(err.Error())
	}

	h, ok := r.handlers[req.Action]
	if !ok {
		return Error(fmt.Sprintf("unknown action: %s", req.Action))
	}
	debug.Live("Command %s", req.Action)
	return h(r, req)
}

func (r *Router) decode(line string) (*request, error) {
	if !strings.HasPrefix(line, "{") {
		kw := strings.ToLower(line)
		if keywords[kw] {
			return &request{Action: kw}, nil
		}
		return nil, fmt.Errorf("unknown command: %s", line)
	}

	var doc any
	if err := json.Unmarshal([]byte(line), &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := r.schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return nil, fmt.Errorf("invalid command: %s", leafMessage(verr))
		}
		return nil, fmt.Errorf("invalid command: %w", err)
	}

	var req request
	dec := json.NewDecoder(bytes.NewReader([]byte(line)))
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}
	return &req, nil
}

// leafMessage digs out the most specific validation failure.
func leafMessage(v *jsonschema.ValidationError) string {
	for len(v.Causes) > 0 {
		v = v.Causes[0]
	}
	loc := v.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return loc + ": " + v.Message
}

// signedSteps applies the optional direction word to |steps|. The
// magnitude of math.MinInt does not fit, it saturates to math.MaxInt.
func signedSteps(steps int, direction string) int {
	switch {
	case steps == math.MinInt:
		steps = math.MaxInt
	case steps < 0:
		steps = -steps
	}
	switch direction {
	case "up", "forward", "open":
		return steps
	case "down", "reverse", "backward", "close":
		return -steps
	}
	return steps
}

func moveHandler(fixed motion.Motor) handler {
	return func(r *Router, req *request) any {
		m := fixed
		if m == "" {
			var ok bool
			if m, ok = motion.ParseMotor(req.Motor); !ok {
				return Error(fmt.Sprintf("unknown motor: %s", req.Motor))
			}
		}
		delta := *req.Steps
		if req.Direction != "" {
			delta = signedSteps(delta, req.Direction)
		}
		if err := r.ctrl.Move(m, delta); err != nil {
			return Error(err.Error())
		}
		return Success(fmt.Sprintf("Moving %s %d steps", m, delta))
	}
}

func simple(call func(Controller) error, msg string) handler {
	return func(r *Router, _ *request) any {
		if err := call(r.ctrl); err != nil {
			return Error(err.Error())
		}
		return Success(msg)
	}
}

func (r *Router) status(*request) any {
	return NewStatus(r.ctrl.Status())
}

func (r *Router) ping(*request) any {
	return Success("pong")
}

func (r *Router) positionSet(req *request) any {
	if err := r.ctrl.PositionSet(req.Left, req.Right); err != nil {
		return Error(err.Error())
	}
	return Success("Moving to position")
}

func (r *Router) configGet(*request) any {
	return NewConfig(r.ctrl.Config())
}

func (r *Router) configSet(req *request) any {
	if req.Patch.Empty() {
		return Error("config_set: no configuration fields")
	}
	cfg, err := r.ctrl.SetConfig(req.Patch)
	if err != nil {
		return Error(err.Error())
	}
	return NewConfig(cfg)
}
