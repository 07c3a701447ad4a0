package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/octamm/octamm/oto"
	"github.com/octamm/octamm/project"
	"github.com/octamm/octamm/runner"
	"github.com/octamm/octamm/runner/gomidi"
	"github.com/octamm/octamm/version"
)

func main() {
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}
	var err error
	args := flag.Args()[1:]
	switch cmd := flag.Arg(0); cmd {
	case "create":
		err = create(args)
	case "play":
		err = play(args)
	case "export":
		err = export(args)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func create(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return fmt.Errorf("usage: %s create <name> [path]", os.Args[0])
	}
	name := fs.Arg(0)
	path := fs.Arg(1)
	if path == "" {
		var err error
		path, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("could not get working directory, specify the path explicitly: %w", err)
		}
	}
	return project.Create(path, name)
}

func play(args []string) error {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	midiPrefix := fs.String("m", "", "Open the first MIDI input whose name starts with the given prefix.")
	midiFirst := fs.Bool("M", false, "Open the first available MIDI input.")
	midiGraph := fs.String("g", "", "Graph that live MIDI input plays.")
	fs.Parse(args)
	if fs.NArg() > 1 {
		return fmt.Errorf("usage: %s play [flags] [path]", os.Args[0])
	}
	host, _, err := loadProject(fs.Arg(0))
	if err != nil {
		return err
	}
	midiContext := gomidi.NewContext(host.Config().SampleRate)
	defer midiContext.Close()
	if *midiPrefix != "" || *midiFirst {
		if err := midiContext.TryToOpenBy(*midiPrefix, *midiFirst); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}
	if *midiGraph != "" {
		if err := host.SetMidiGraph(*midiGraph); err != nil {
			return err
		}
	}
	audioContext, err := oto.NewContext(host.Config().SampleRate)
	if err != nil {
		return fmt.Errorf("could not acquire audio context: %w", err)
	}
	if err := host.StartAudio(audioContext, midiContext); err != nil {
		return err
	}
	if err := host.Start(); err != nil {
		return err
	}
	waitUntilDone(host)
	host.StopAudio()
	return nil
}

// waitUntilDone drains diagnostics until the playhead passes the end of the
// timeline plus the configured tail, showing the output level while playing.
func waitUntilDone(host *runner.Host) {
	timeline := host.Timeline()
	cfg := host.Config()
	end := int64(timeline.EndTick() + int(cfg.TailSeconds*float64(cfg.SampleRate)))
	vu := runner.NewVolumeAnalyzer(0.3, 1.5e-3, 1.5, -100, cfg.SampleRate)
	var lastMeter time.Time
	for {
		msg, ok := runner.TimeoutReceive(host.Diagnostics(), time.Second)
		if !ok {
			continue
		}
		if msg.Buffer != nil {
			vu.Update(msg.Buffer)
			host.Broker().PutAudioBuffer(msg.Buffer)
		}
		if msg.HasAlert {
			fmt.Fprintf(os.Stderr, "\n%v: %v\n", msg.Alert.Name, msg.Alert.Message)
		}
		if msg.HasPosition && time.Since(lastMeter) >= 100*time.Millisecond {
			lastMeter = time.Now()
			fmt.Fprintf(os.Stderr, "\rpeak %6.1f %6.1f dB  avg %6.1f %6.1f dB ",
				vu.Volume.Peak[0], vu.Volume.Peak[1], vu.Volume.Average[0], vu.Volume.Average[1])
		}
		if msg.HasPosition && msg.Position >= end {
			fmt.Fprintln(os.Stderr)
			return
		}
	}
}

func export(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	format := fs.String("f", "", "Export format: wav32, wav16, raw32 or raw16. Overrides the project config.")
	fs.Parse(args)
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return fmt.Errorf("usage: %s export [flags] <project> [out]", os.Args[0])
	}
	host, p, err := loadProject(fs.Arg(0))
	if err != nil {
		return err
	}
	if *format != "" {
		cfg := host.Config()
		cfg.ExportFormat = *format
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runner.Export(outPath(fs.Arg(1), p, *format), host.Timeline(), cfg)
	}
	return host.Export(outPath(fs.Arg(1), p, host.Config().ExportFormat))
}

func outPath(arg string, p *project.Project, format string) string {
	if arg != "" {
		return arg
	}
	ext := ".wav"
	if format == "raw32" || format == "raw16" {
		ext = ".raw"
	}
	return filepath.Join(p.Path, p.Name+ext)
}

// loadProject loads the project at path (default: working directory), builds
// a host from its config and schedules its score.
func loadProject(path string) (*runner.Host, *project.Project, error) {
	if path == "" {
		path = "."
	}
	p, err := project.Load(path)
	if err != nil {
		return nil, nil, err
	}
	host, err := runner.NewHost(p.Config)
	if err != nil {
		return nil, nil, err
	}
	if info, err := os.Stat(p.SamplesDir()); err == nil && info.IsDir() {
		if _, err := host.LoadSampleDir(p.SamplesDir()); err != nil {
			return nil, nil, err
		}
	}
	if p.Score != nil {
		if err := host.LoadScore(*p.Score); err != nil {
			return nil, nil, err
		}
	}
	return host, p, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <command>\n\nCommands:\n  create <name> [path]          scaffold a new project directory\n  play [flags] [path]           play a project's score live\n  export [flags] <project> [out] render a project's score to a file\n\nFlags:\n", os.Args[0])
	flag.PrintDefaults()
}
