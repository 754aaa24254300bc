package dispatch

import (
	"context"
	"fmt"
)

// Step is one entry in a batch_execute request.
type Step struct {
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params,omitempty"`
}

// StepResult reports one executed step.
type StepResult struct {
	Operation string `json:"operation"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Result    any    `json:"result,omitempty"`
}

// BatchResult is the aggregate of an ordered batch run.
type BatchResult struct {
	OK      bool         `json:"ok"`
	Stopped bool         `json:"stopped,omitempty"` // true when stopOnError cut the batch short
	Steps   []StepResult `json:"steps"`
}

// ExecuteBatch runs steps in order. With stopOnError, the first failing
// step ends the batch; remaining steps are not attempted.
func (e *Engine) ExecuteBatch(ctx context.Context, steps []Step, stopOnError bool) BatchResult {
	out := BatchResult{OK: true}
	for _, step := range steps {
		res := e.executeStep(ctx, step)
		out.Steps = append(out.Steps, res)
		if !res.OK {
			out.OK = false
			if stopOnError {
				out.Stopped = true
				break
			}
		}
	}
	return out
}

// executeStep routes one operation to its Engine implementation.
func (e *Engine) executeStep(ctx context.Context, step Step) StepResult {
	result, err := e.runOperation(ctx, step.Operation, step.Params)
	if err != nil {
		return StepResult{Operation: step.Operation, Error: err.Error()}
	}
	return StepResult{Operation: step.Operation, OK: true, Result: result}
}

func (e *Engine) runOperation(ctx context.Context, op string, params map[string]any) (any, error) {
	str := func(key string) string {
		v, _ := params[key].(string)
		return v
	}
	switch op {
	case "write_file":
		return nil, e.WriteFile(str("path"), str("content"))
	case "read_file":
		content, err := e.ReadFile(str("path"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"content": content}, nil
	case "create_resource":
		return nil, e.CreateResource(str("path"), str("type"))
	case "create_scene":
		return nil, e.CreateScene(str("path"), str("root_name"), str("root_type"))
	case "add_node":
		return nil, e.AddNode(str("scene"), str("name"), str("type"), str("parent"))
	case "connect_signal":
		return nil, e.ConnectSignal(str("scene"), str("signal"), str("from"), str("to"), str("method"))
	case "validate_scene":
		problems, err := e.ValidateScene(str("scene"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"valid": len(problems) == 0, "problems": problems}, nil
	case "save_scene":
		return nil, e.SaveScene(str("scene"))
	case "instance_scene":
		return nil, e.InstanceScene(str("scene"), str("instance"), str("name"), str("parent"))
	case "create_tilemap":
		return nil, e.CreateTilemap(str("scene"), str("name"))
	case "load_sprite":
		return nil, e.LoadSprite(str("scene"), str("texture"), str("name"), str("parent"))
	case "resave_resources":
		count, err := e.ResaveResources()
		if err != nil {
			return nil, err
		}
		return map[string]any{"resaved": count}, nil
	case "project_scan":
		report, err := e.ScanProject(ctx, params)
		if err != nil {
			return nil, err
		}
		return map[string]any{"total": report.Summary.Total}, nil
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
}
