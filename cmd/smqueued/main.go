// Command smqueued is the store-and-forward SIP MESSAGE queue daemon,
// wiring config, the directory, the queue core, and the state machine
// worker behind the controller's reader/writer pair.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/zurustar/smqueued/internal/config"
	"github.com/zurustar/smqueued/internal/controller"
	"github.com/zurustar/smqueued/internal/directory"
)

// version is stamped at release time.
const version = "smqueued 0.1.0"

func main() {
	var (
		configFile = flag.String("config", "smqueued.yaml", "Configuration file path")
		showVer    = flag.Bool("version", false, "Print version and exit")
		genSQL     = flag.Bool("gensql", false, "Print the subscriber registry schema and exit")
		genTeX     = flag.Bool("gentex", false, "Print the configuration keys as a TeX table and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Println(version)
		return
	}
	if *genSQL {
		fmt.Print(directory.Schema)
		return
	}
	if *genTeX {
		fmt.Println(config.KeysAsTeX())
		return
	}

	mgr := config.NewManager()
	cfg, err := mgr.Load(*configFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctrl, err := controller.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize smqueued: %v", err)
	}

	if err := ctrl.RunWithSignalHandling(); err != nil {
		log.Fatalf("smqueued exited with error: %v", err)
	}
}
