package api

import (
	"context"
	"strings"

	"haruki-cri-audio/batch"
	"haruki-cri-audio/config"
	"haruki-cri-audio/utils"
	"haruki-cri-audio/utils/exporter"
	harukiLogger "haruki-cri-audio/utils/logger"

	"github.com/gofiber/fiber/v3"
)

var logger = harukiLogger.NewLogger("HarukiCRIAPI", "INFO", nil)

// newCommand builds the per job command.
var newCommand = func(opts exporter.Options) batch.Command {
	return exporter.New(opts)
}

type JobOptions struct {
	Key        string   `json:"key,omitempty"`
	AwbKey     string   `json:"awb_key,omitempty"`
	Output     string   `json:"output,omitempty"`
	Volume     *float64 `json:"volume,omitempty"`
	BitDepth   *int     `json:"bit_depth,omitempty"`
	Cipher     *int     `json:"cipher,omitempty"`
	Skip       bool     `json:"skip,omitempty"`
	Decrypt    bool     `json:"decrypt,omitempty"`
	Strict     bool     `json:"strict,omitempty"`
	Filter     string   `json:"filter,omitempty"`
	Convert    string   `json:"convert,omitempty"`
	RemoveWav  bool     `json:"remove_wav,omitempty"`
	ConvertM2V bool     `json:"convert_m2v,omitempty"`
	Format     string   `json:"format,omitempty"`
}

type JobRequest struct {
	Command string     `json:"command"`
	Inputs  []string   `json:"inputs"`
	Options JobOptions `json:"options"`
	Upload  bool       `json:"upload"`
}

func (o JobOptions) overrides() batch.Overrides {
	return batch.Overrides{
		Key:        o.Key,
		AwbKey:     o.AwbKey,
		Output:     o.Output,
		Volume:     o.Volume,
		BitDepth:   o.BitDepth,
		Cipher:     o.Cipher,
		Skip:       o.Skip,
		Decrypt:    o.Decrypt,
		Strict:     o.Strict,
		Filter:     o.Filter,
		Convert:    o.Convert,
		RemoveWav:  o.RemoveWav,
		ConvertM2V: o.ConvertM2V,
		Format:     o.Format,
	}
}

type handler struct {
	store *JobStore
}

// RegisterRoutes registers all API routes
func RegisterRoutes(app *fiber.App, store *JobStore) {
	h := &handler{store: store}
	app.Post("/jobs", authorize, h.createJob)
	app.Get("/jobs", authorize, h.listJobs)
	app.Get("/jobs/:id", authorize, h.getJob)
}

func authorize(c fiber.Ctx) error {
	if !config.Cfg.Backend.EnableAuthorization {
		return c.Next()
	}
	if prefix := config.Cfg.Backend.AcceptUserAgentPrefix; prefix != "" {
		if !strings.HasPrefix(c.Get("User-Agent"), prefix) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Invalid User-Agent",
			})
		}
	}
	if token := config.Cfg.Backend.AcceptAuthorizationToken; token != "" {
		if c.Get("Authorization") != "Bearer "+token {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Invalid authorization token",
			})
		}
	}
	return c.Next()
}

func (h *handler) createJob(c fiber.Ctx) error {
	var req JobRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request payload",
			"error":   err.Error(),
		})
	}
	cmd, err := utils.ParseCommand(req.Command)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Unknown command",
			"error":   err.Error(),
		})
	}
	if len(req.Inputs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "No inputs given",
		})
	}
	opts, err := batch.ExporterOptions(config.Cfg, req.Options.overrides())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid options",
			"error":   err.Error(),
		})
	}

	job := h.store.Create(cmd, req.Inputs)
	runner := batch.NewRunner(newCommand(opts), batch.RunnerOptions(config.Cfg, req.Upload)...)
	go h.run(runner, job.ID, cmd, req.Inputs)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "Job started running",
		"id":      job.ID,
	})
}

func (h *handler) run(runner *batch.Runner, id string, cmd utils.HarukiCRICommand, inputs []string) {
	h.store.setRunning(id)
	logger.Infof("job %s: %s over %d inputs", id, cmd, len(inputs))
	results, err := runner.Run(context.Background(), cmd, inputs)
	if err != nil {
		logger.Warnf("job %s finished with errors: %v", id, err)
	} else {
		logger.Infof("job %s finished", id)
	}
	h.store.finish(id, results, err)
}

func (h *handler) listJobs(c fiber.Ctx) error {
	return c.JSON(h.store.List())
}

func (h *handler) getJob(c fiber.Ctx) error {
	job, ok := h.store.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": "Job not found",
		})
	}
	return c.JSON(job)
}
