// Package componentregistry registers every input, output, stage step and
// log sink shipped with ratstreams.
package componentregistry

import (
	"encoding/json"
	"errors"

	"github.com/c360/ratstreams/component"
	pkgerrors "github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/input/cron"
	"github.com/c360/ratstreams/input/dirwatch"
	inputdummy "github.com/c360/ratstreams/input/dummy"
	inputexec "github.com/c360/ratstreams/input/exec"
	"github.com/c360/ratstreams/input/kafkain"
	"github.com/c360/ratstreams/input/natsin"
	inputqueue "github.com/c360/ratstreams/input/queue"
	"github.com/c360/ratstreams/input/redisin"
	"github.com/c360/ratstreams/input/socket"
	"github.com/c360/ratstreams/logsink"
	outputdummy "github.com/c360/ratstreams/output/dummy"
	outputexec "github.com/c360/ratstreams/output/exec"
	"github.com/c360/ratstreams/output/file"
	"github.com/c360/ratstreams/output/kafkaout"
	"github.com/c360/ratstreams/output/natsout"
	outputqueue "github.com/c360/ratstreams/output/queue"
	"github.com/c360/ratstreams/output/redisout"
	"github.com/c360/ratstreams/output/socketout"
	"github.com/c360/ratstreams/output/switcher"
	"github.com/c360/ratstreams/output/throttle"
	"github.com/c360/ratstreams/output/websocket"
	"github.com/c360/ratstreams/transform"
)

type registration struct {
	what     string
	register func(*component.Registry) error
}

// Register registers all components with the provided registry:
//
// Inputs: queue, dummy, socket, dirwatch, exec, cron, nats, kafka, redis
// Outputs: queue, dummy, switch, file, throttle, socket, exec, websocket, nats, kafka, redis
// Steps: every built-in transform step
// Sinks: slog, queue, nats
func Register(registry *component.Registry) error {
	// Nil registry is a programming error (fatal), not invalid input
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}

	regs := []registration{
		{"queue input", inputqueue.Register},
		{"dummy input", inputdummy.Register},
		{"socket input", socket.Register},
		{"dirwatch input", dirwatch.Register},
		{"exec input", inputexec.Register},
		{"cron input", cron.Register},
		{"NATS input", natsin.Register},
		{"Kafka input", kafkain.Register},
		{"Redis input", redisin.Register},

		{"queue output", outputqueue.Register},
		{"dummy output", outputdummy.Register},
		{"switch output", switcher.Register},
		{"file output", file.Register},
		{"throttle output", throttle.Register},
		{"socket output", socketout.Register},
		{"exec output", outputexec.Register},
		{"WebSocket output", websocket.Register},
		{"NATS output", natsout.Register},
		{"Kafka output", kafkaout.Register},
		{"Redis output", redisout.Register},

		{"transform steps", registerSteps},
		{"log sinks", logsink.Register},
	}
	for _, reg := range regs {
		if err := reg.register(registry); err != nil {
			return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", reg.what+" registration")
		}
	}
	return nil
}

func registerSteps(registry *component.Registry) error {
	for _, name := range transform.BuiltinNames() {
		err := registry.RegisterWithConfig(component.RegistrationConfig{
			Name: name,
			Kind: component.KindStep,
			Factory: func(raw json.RawMessage, _ component.Dependencies) (any, error) {
				return transform.Builtin(name, raw)
			},
			Protocol:    "internal",
			Description: "Built-in " + name + " transform step",
			Version:     "0.1.0",
		})
		if err != nil {
			return err
		}
	}
	return nil
}
