package main

import (
	"fmt"
	"io"
	"os"

	"haruki-cri-audio/batch"
	"haruki-cri-audio/config"
	"haruki-cri-audio/utils"
	"haruki-cri-audio/utils/exporter"
	harukiLogger "haruki-cri-audio/utils/logger"

	"github.com/urfave/cli/v2"
)

var mainLogger = harukiLogger.NewLogger("Main", "INFO", nil)

var commandUsage = map[utils.HarukiCRICommand]string{
	utils.CommandACB2HCAs:   "Extract the waveforms of ACB files as HCA",
	utils.CommandACB2WAVs:   "Extract the waveforms of ACB files as WAV",
	utils.CommandAWB2HCAs:   "Extract the entries of AWB archives as HCA",
	utils.CommandAWB2WAVs:   "Extract the entries of AWB archives as WAV",
	utils.CommandHCA2WAV:    "Decode HCA files to WAV",
	utils.CommandViewUTF:    "Dump the UTF table of ACB files",
	utils.CommandDecryptACB: "Decrypt ACB files and their stream AWBs in place",
	utils.CommandDecryptAWB: "Decrypt AWB archives in place",
	utils.CommandDecryptHCA: "Decrypt HCA files in place",
	utils.CommandACBMix:     "Mix every cue of ACB files into one WAV per cue",
	utils.CommandExtractCPK: "Extract CPK archives",
	utils.CommandExtractUSM: "Demux USM movies into video and audio streams",
}

var logFile *os.File

// usesAwbKey lists the commands without an archive of their own to take the subkey from.
func usesAwbKey(cmd utils.HarukiCRICommand) bool {
	return cmd == utils.CommandHCA2WAV || cmd == utils.CommandDecryptHCA
}

func commandFlags(cmd utils.HarukiCRICommand) []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Usage: "HCA key, decimal or 0x hex"},
		&cli.PathFlag{Name: "output", Aliases: []string{"o"}, Usage: "output directory or file"},
		&cli.Float64Flag{Name: "volume", Aliases: []string{"v"}, Usage: "output volume scale"},
		&cli.IntFlag{Name: "mode", Aliases: []string{"m"}, Usage: "bit depth: 8, 16, 24, 32 or 0 for float"},
		&cli.IntFlag{Name: "type", Aliases: []string{"t"}, Usage: "cipher variant written by decrypt commands: 0 or 1"},
		&cli.BoolFlag{Name: "skip", Aliases: []string{"s"}, Usage: "skip inputs whose output directory exists"},
		&cli.BoolFlag{Name: "decrypt", Aliases: []string{"d"}, Usage: "decrypt extracted HCA files"},
		&cli.BoolFlag{Name: "strict", Usage: "fail on unknown opcodes and out of range positions"},
		&cli.StringFlag{Name: "filter", Usage: "only export names matching this regular expression"},
		&cli.StringFlag{Name: "convert", Usage: "convert WAV output to mp3 or flac"},
		&cli.BoolFlag{Name: "remove-wav", Usage: "remove intermediate files after conversion"},
		&cli.BoolFlag{Name: "convert-m2v", Usage: "remux extracted m2v streams to mp4"},
		&cli.StringFlag{Name: "format", Usage: "view_utf output format: json or msgpack"},
		&cli.BoolFlag{Name: "upload", Usage: "upload outputs to the configured remote storages"},
	}
	if usesAwbKey(cmd) {
		flags = append(flags, &cli.StringFlag{Name: "awb-key", Aliases: []string{"w"}, Usage: "AWB subkey mixed into the HCA key"})
	}
	return flags
}

func overridesFromFlags(c *cli.Context) batch.Overrides {
	o := batch.Overrides{
		Key:        c.String("key"),
		AwbKey:     c.String("awb-key"),
		Output:     c.Path("output"),
		Skip:       c.Bool("skip"),
		Decrypt:    c.Bool("decrypt"),
		Strict:     c.Bool("strict"),
		Filter:     c.String("filter"),
		Convert:    c.String("convert"),
		RemoveWav:  c.Bool("remove-wav"),
		ConvertM2V: c.Bool("convert-m2v"),
		Format:     c.String("format"),
	}
	if c.IsSet("volume") {
		v := c.Float64("volume")
		o.Volume = &v
	}
	if c.IsSet("mode") {
		m := c.Int("mode")
		o.BitDepth = &m
	}
	if c.IsSet("type") {
		t := c.Int("type")
		o.Cipher = &t
	}
	return o
}

func runCommand(cmd utils.HarukiCRICommand) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() == 0 {
			return cli.Exit(fmt.Sprintf("%s needs at least one input path", cmd), 2)
		}
		opts, err := batch.ExporterOptions(config.Cfg, overridesFromFlags(c))
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		runner := batch.NewRunner(exporter.New(opts), batch.RunnerOptions(config.Cfg, c.Bool("upload"))...)
		results, err := runner.Run(c.Context, cmd, c.Args().Slice())
		for _, r := range results {
			switch {
			case r.Error != "":
				mainLogger.Errorf("%s failed: %s", r.Input, r.Error)
			case r.Skipped:
				mainLogger.Infof("%s skipped", r.Input)
			default:
				mainLogger.Infof("%s: %d files written", r.Input, len(r.Outputs))
			}
		}
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		return nil
	}
}

func setup(c *cli.Context) error {
	cfg, err := config.Load(c.Path("config"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	level := cfg.Backend.LogLevel
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	var loggerWriter io.Writer = os.Stdout
	if cfg.Backend.MainLogFile != "" {
		logFile, err = os.OpenFile(cfg.Backend.MainLogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to open main log file: %v", err), 1)
		}
		loggerWriter = io.MultiWriter(os.Stdout, logFile)
	}
	harukiLogger.Configure(level, loggerWriter)
	return nil
}

func teardown(*cli.Context) error {
	if logFile != nil {
		_ = logFile.Close()
	}
	return nil
}

func main() {
	cli.VersionFlag = &cli.BoolFlag{Name: "version", Usage: "print the version"}

	app := &cli.App{
		Name:    "haruki-cri-audio",
		Usage:   "Extract, decrypt and mix CRI ACB/AWB/HCA/CPK/USM files",
		Version: config.Version,
		Flags: []cli.Flag{
			&cli.PathFlag{Name: "config", Aliases: []string{"c"}, Value: config.DefaultPath, Usage: "configuration file"},
			&cli.StringFlag{Name: "log-level", Usage: "log level, overrides backend.log_level"},
		},
		Before: setup,
		After:  teardown,
	}
	for _, cmd := range utils.AllCommands {
		app.Commands = append(app.Commands, &cli.Command{
			Name:      string(cmd),
			Usage:     commandUsage[cmd],
			ArgsUsage: "<path or url>...",
			Flags:     commandFlags(cmd),
			Action:    runCommand(cmd),
		})
	}
	app.Commands = append(app.Commands, &cmdServe)

	if err := app.Run(os.Args); err != nil {
		mainLogger.Errorf("%v", err)
		os.Exit(1)
	}
}
