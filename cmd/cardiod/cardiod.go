package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/openecg/cardiod"
)

var githash = "githash not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	// Create directory <path>, if needed
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		err2 := os.MkdirAll(dir, 0775)
		if err2 != nil {
			return "", err2
		}
	}

	// Create an empty file path/filename, if it doesn't exist.
	fullname := path.Join(dir, filename)
	_, err := os.Stat(fullname)
	if os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find config
// files and the filename and suffix. Sets the defaults for every key.
func setupViper() error {
	viper.SetDefault("samplerate", 475.0)
	viper.SetDefault("voltagerange", 4.096)
	viper.SetDefault("duration", "60s")
	viper.SetDefault("writeinterval", "200ms")
	viper.SetDefault("ringcapacity", 2048)
	viper.SetDefault("datadir", "data")
	viper.SetDefault("outdir", filepath.Join("data", "processed"))
	viper.SetDefault("basename", "ecg")
	viper.SetDefault("analyzer.rthreshold", cardiod.DefaultRThresh)
	viper.SetDefault("analyzer.filter", "")
	viper.SetDefault("playback.file", filepath.Join("data", "ecg_samples.bin"))
	viper.SetDefault("playback.loop", false)
	viper.SetDefault("tcp.enable", true)
	viper.SetDefault("tcp.port", cardiod.Ports.FileTransfer)
	viper.SetDefault("status.enable", false)
	viper.SetDefault("status.port", cardiod.Ports.Status)
	viper.SetDefault("metrics.enable", false)
	viper.SetDefault("metrics.port", cardiod.Ports.Metrics)
	viper.SetDefault("db.enable", false)
	viper.SetDefault("db.addr", "localhost:9000")
	viper.SetDefault("export.npy", false)
	viper.SetDefault("export.edf", false)

	HOME, err := os.UserHomeDir()
	if err != nil { // Handle errors reading the config file
		fmt.Printf("Error finding User Home Dir: %s\n", err)
	}
	dotCardiod := filepath.Join(HOME, ".cardiod")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotCardiod, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/cardiod"))
	viper.AddConfigPath(dotCardiod)
	viper.AddConfigPath(".")
	err = viper.ReadInConfig() // Find and read the config file
	if err != nil {            // Handle errors reading the config file
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	probFile, err := os.OpenFile(pfname, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		msg := fmt.Sprintf("Could not open log file '%s'", pfname)
		panic(msg)
	}
	probLogger := log.New(probFile, "", log.LstdFlags)
	probLogger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return probLogger
}

// configFromViper assembles the run configuration from viper keys plus the
// command-line overrides.
func configFromViper(simulate, synthesize bool, duration time.Duration, playbackFile string) cardiod.Config {
	cfg := cardiod.Config{
		SampleRate:    viper.GetFloat64("samplerate"),
		VoltageRange:  viper.GetFloat64("voltagerange"),
		Duration:      viper.GetDuration("duration"),
		WriteInterval: viper.GetDuration("writeinterval"),
		RingCapacity:  viper.GetInt("ringcapacity"),
		DataDir:       viper.GetString("datadir"),
		OutDir:        viper.GetString("outdir"),
		BaseName:      viper.GetString("basename"),
		RThreshold:    viper.GetFloat64("analyzer.rthreshold"),
		Filter:        viper.GetString("analyzer.filter"),
		Simulate:      simulate,
		Synthesize:    synthesize,
		PlaybackPath:  viper.GetString("playback.file"),
		PlaybackLoop:  viper.GetBool("playback.loop"),
		EnableTCP:     viper.GetBool("tcp.enable"),
		TCPPort:       viper.GetInt("tcp.port"),
		EnableStatus:  viper.GetBool("status.enable"),
		StatusPort:    viper.GetInt("status.port"),
		EnableMetrics: viper.GetBool("metrics.enable"),
		MetricsPort:   viper.GetInt("metrics.port"),
		EnableDB:      viper.GetBool("db.enable"),
		DBAddr:        viper.GetString("db.addr"),
		ExportNPY:     viper.GetBool("export.npy"),
		ExportEDF:     viper.GetBool("export.edf"),
	}
	if duration > 0 {
		cfg.Duration = duration
	}
	if playbackFile != "" {
		cfg.PlaybackPath = playbackFile
		cfg.Simulate = true
	}
	return cfg
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	cardiod.Build.Date = buildDate
	cardiod.Build.Githash = githash

	printVersion := flag.Bool("version", false, "print version and quit")
	simulate := flag.Bool("s", false, "force file-playback mode")
	flag.BoolVar(simulate, "simulate", false, "force file-playback mode")
	synthesize := flag.Bool("synthesize", false, "use the built-in PQRST synthesizer as the data source")
	durationSec := flag.Float64("d", 0, "acquisition window in seconds (overrides config)")
	flag.Float64Var(durationSec, "duration", 0, "acquisition window in seconds (overrides config)")
	pingDB := flag.Bool("ping", false, "check the recording database is reachable, then quit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [OPTIONS] [FILE]\n\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "FILE is a playback input path; giving one implies -s.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is cardiod version %s\n", cardiod.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		fmt.Printf("Running on %d CPUs.\n", runtime.NumCPU())
		os.Exit(0)
	}

	banner := fmt.Sprintf("\nThis is cardiod version %s (git commit %s)\n", cardiod.Build.Version, githash)
	fmt.Print(banner)

	// Start logging problems and updates to 2 log files.
	HOME, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	logdir := filepath.Join(HOME, ".cardiod", "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		panic(err)
	}
	cardiod.ProblemLogger = startLogger(problemname)
	cardiod.UpdateLogger = startLogger(logname)
	fmt.Printf("Logging problems to %s\n", problemname)
	fmt.Printf("Logging updates  to %s\n\n", logname)
	cardiod.UpdateLogger.Printf("\n\n\n\n%s", banner)

	// Find config file, creating it if needed, and read it.
	if err := setupViper(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *pingDB {
		if err := cardiod.PingDatabase(viper.GetString("db.addr")); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	var playbackFile string
	switch flag.NArg() {
	case 0:
	case 1:
		playbackFile = flag.Arg(0)
	default:
		fmt.Fprintln(os.Stderr, "at most one playback FILE argument is allowed")
		flag.Usage()
		os.Exit(1)
	}

	cfg := configFromViper(*simulate, *synthesize,
		time.Duration(*durationSec*float64(time.Second)), playbackFile)
	cardiod.UpdateLogger.Printf("run configuration:\n%s", spew.Sdump(cfg))

	app, err := cardiod.NewApplication(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// The handler does nothing but set the flag; all orchestration happens
	// on the main goroutine. Repeated signals are coalesced.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigs {
			app.RequestShutdown()
		}
	}()

	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
