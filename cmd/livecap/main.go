package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ytget/livecap"
	"github.com/ytget/livecap/config"
	"github.com/ytget/livecap/internal/logger"
	"github.com/ytget/livecap/internal/siterules"
	"github.com/ytget/livecap/internal/status"
	"github.com/ytget/livecap/sites"
	"github.com/ytget/livecap/types"
)

var log = logger.WithComponent(logger.ComponentApp)

func main() {
	os.Exit(run())
}

func run() int {
	def := config.Default()
	var (
		flagConfig       string
		flagSite         string
		flagCategory     string
		flagListCats     bool
		flagDiscoverCats bool
		flagRooms        int
		flagRounds       int
		flagDwell        time.Duration
		flagExtra        time.Duration
		flagRoundPause   time.Duration
		flagIface        string
		flagTshark       string
		flagOut          string
		flagChrome       string
		flagUserDataDir  string
		flagProfileDir   string
		flagHeadless     bool
		flagRetries      int
		flagBackoff      time.Duration
		flagQualities    string
		flagRoomURLs     string
		flagDiscovery    string
		flagHTTPTimeout  time.Duration
		flagProxy        string
		flagRules        string
		flagStatusAddr   string
		flagLogLevel     string
	)

	flag.StringVar(&flagConfig, "config", "", "JSON or YAML config file; flags override it")
	flag.StringVar(&flagSite, "site", "", "Site: "+strings.Join(sites.Names(), ", "))
	flag.StringVar(&flagCategory, "category", "", "Category index, name or URL. Empty prompts on stdin")
	flag.BoolVar(&flagListCats, "list-categories", false, "Print the categories of -site and exit")
	flag.BoolVar(&flagDiscoverCats, "discover-categories", false, "List categories from the live site instead of the built-in table")
	flag.IntVar(&flagRooms, "rooms", def.Rooms, "Rooms per category and round")
	flag.IntVar(&flagRounds, "rounds", def.Rounds, "Rounds to run (0 means forever)")
	flag.DurationVar(&flagDwell, "dwell", def.Dwell.Std(), "Time spent on each room")
	flag.DurationVar(&flagExtra, "extra", def.Extra.Std(), "Extra capture time after the dwell")
	flag.DurationVar(&flagRoundPause, "round-pause", def.RoundPause.Std(), "Pause between rounds")
	flag.StringVar(&flagIface, "iface", def.Interface, "Capture interface passed to tshark -i")
	flag.StringVar(&flagTshark, "tshark", def.Tshark, "tshark executable")
	flag.StringVar(&flagOut, "out", def.OutDir, "Capture output directory")
	flag.StringVar(&flagChrome, "chrome", "", "Chrome executable (empty searches the usual locations)")
	flag.StringVar(&flagUserDataDir, "user-data-dir", "", "Chrome user data directory holding the logged in profile")
	flag.StringVar(&flagProfileDir, "profile-dir", "", "Profile directory inside the user data directory, e.g. Default")
	flag.BoolVar(&flagHeadless, "headless", false, "Run Chrome headless")
	flag.IntVar(&flagRetries, "retries", def.Retries, "Browser start attempts while the profile is busy")
	flag.DurationVar(&flagBackoff, "backoff", def.Backoff.Std(), "Base backoff between browser start attempts")
	flag.StringVar(&flagQualities, "qualities", "", "Comma separated quality preference (empty uses the site default)")
	flag.StringVar(&flagRoomURLs, "room", "", "Comma separated room URLs to capture instead of discovering rooms")
	flag.StringVar(&flagDiscovery, "discovery", def.Discovery, "Room discovery: auto, http or browser")
	flag.DurationVar(&flagHTTPTimeout, "http-timeout", def.HTTPTimeout.Std(), "HTTP timeout for listing pages")
	flag.StringVar(&flagProxy, "proxy", "", "Proxy URL for listing requests and Chrome, e.g. http://127.0.0.1:8080")
	flag.StringVar(&flagRules, "rules", "", "JS file overriding normalizeRoom/categoryLabel, reloaded on change")
	flag.StringVar(&flagStatusAddr, "status-addr", "", "Serve /status, /healthz and /debug/pprof on this address")
	flag.StringVar(&flagLogLevel, "log-level", "", "Log level (TRACE, DEBUG, INFO, WARN, ERROR)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -site <site> [flags]\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	logCfg := logger.EnvironmentConfig()
	if flagLogLevel != "" {
		logCfg.Level = flagLogLevel
	}
	l, closer, err := logCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log config: %v\n", err)
		return 2
	}
	defer closer.Close()
	logger.SetGlobalLogger(l)

	cfg, err := config.Load(flagConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return 2
	}

	// Only flags given on the command line override the file and env.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "site":
			cfg.Site = flagSite
		case "category":
			cfg.Category = flagCategory
		case "rooms":
			cfg.Rooms = flagRooms
		case "rounds":
			cfg.Rounds = flagRounds
		case "dwell":
			cfg.Dwell = config.Duration(flagDwell)
		case "extra":
			cfg.Extra = config.Duration(flagExtra)
		case "round-pause":
			cfg.RoundPause = config.Duration(flagRoundPause)
		case "iface":
			cfg.Interface = flagIface
		case "tshark":
			cfg.Tshark = flagTshark
		case "out":
			cfg.OutDir = flagOut
		case "chrome":
			cfg.ChromePath = flagChrome
		case "user-data-dir":
			cfg.UserDataDir = flagUserDataDir
		case "profile-dir":
			cfg.ProfileDir = flagProfileDir
		case "headless":
			cfg.Headless = flagHeadless
		case "retries":
			cfg.Retries = flagRetries
		case "backoff":
			cfg.Backoff = config.Duration(flagBackoff)
		case "qualities":
			cfg.Qualities = config.SplitList(flagQualities)
		case "room":
			cfg.RoomURLs = config.SplitList(flagRoomURLs)
		case "discovery":
			cfg.Discovery = flagDiscovery
		case "http-timeout":
			cfg.HTTPTimeout = config.Duration(flagHTTPTimeout)
		case "proxy":
			cfg.Proxy = flagProxy
		case "rules":
			cfg.RulesFile = flagRules
		case "status-addr":
			cfg.StatusAddr = flagStatusAddr
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid settings: %v\n", err)
		flag.Usage()
		return 2
	}

	site, err := sites.Lookup(cfg.Site)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}
	if cfg.RulesFile != "" {
		rules, err := siterules.Load(site, cfg.RulesFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Rules error: %v\n", err)
			return 2
		}
		site = rules
	}
	if err := sites.Validate(site); err != nil {
		log.Error("page scripts do not compile", logger.Fields{"site": site.Name(), "err": err})
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rules, ok := site.(*siterules.Rules); ok {
		go func() {
			if err := rules.Watch(ctx, cfg.RulesFile); err != nil {
				log.Warn("rules file not watched", logger.Fields{"err": err})
			}
		}()
	}

	c := livecap.New(cfg, site)
	if len(cfg.RoomURLs) > 0 {
		rooms, err := livecap.ParseRooms(site, cfg.RoomURLs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 2
		}
		c.WithRooms(rooms)
	}

	var list []types.Category
	if flagListCats || flagDiscoverCats || (cfg.Category == "" && len(cfg.RoomURLs) == 0) {
		list = categories(ctx, c, flagDiscoverCats)
	}
	if flagListCats {
		printCategories(os.Stdout, site, list)
		return 0
	}

	var cat types.Category
	switch {
	case cfg.Category != "":
		cat, err = sites.Resolve(site, cfg.Category, list)
	case len(cfg.RoomURLs) > 0:
		cat = types.Category{Name: sites.ManualLabel, Label: sites.ManualLabel}
	default:
		cat, err = promptCategory(os.Stdin, os.Stdout, site, list)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Category error: %v\n", err)
		return 2
	}
	log.Info("category selected", logger.Fields{"site": site.Name(), "category": cat.FileLabel(), "url": cat.URL})

	if cfg.StatusAddr != "" {
		tracker := status.NewTracker()
		c.WithObserver(tracker)
		srv := status.NewServer(cfg.StatusAddr, tracker)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error("status server stopped", logger.Fields{"err": err})
			}
		}()
	}

	if err := c.Run(ctx, cat); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("interrupted, exiting")
			return 0
		}
		log.Error("run failed", logger.Fields{"err": err})
		return 1
	}
	return 0
}

// categories returns the built-in table, or the live list when asked for
// or when the site has no table.
func categories(ctx context.Context, c *livecap.Capturer, live bool) []types.Category {
	builtin := c.Site().Categories()
	if !live && len(builtin) > 0 {
		return builtin
	}
	found, err := c.Categories(ctx)
	if err != nil || len(found) == 0 {
		log.Warn("no categories discovered, using the built-in table", logger.Fields{"err": err})
		return builtin
	}
	return found
}
