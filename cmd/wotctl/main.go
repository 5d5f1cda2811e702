// Command wotctl runs the trust graph engine and gives a human a way
// to poke at it: serve starts the importer/scheduler/subscription
// deployer as background jobs, inspect drops into a keypress-driven
// live view of the store (cmd/engine/cliListener.go's "cheap and nasty"
// approach to development-time introspection), and import replays a
// trust list from a local file without touching the network.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"trustgraph/engine/actors"
	"trustgraph/engine/library"
	"trustgraph/importpipeline"
	"trustgraph/rpc"
	"trustgraph/scoring"
	"trustgraph/store"
	"trustgraph/subscription"
)

type app struct {
	store      *store.Store
	engine     *scoring.Engine
	queue      *importpipeline.Queue
	importer   *importpipeline.Importer
	scheduler  *importpipeline.Scheduler
	manager    *subscription.Manager
	deployer   *subscription.Deployer
	dispatcher *rpc.Dispatcher

	importJob      *actors.TickerJob
	scheduleJob    *actors.TickerJob
	subscribeJob   *actors.TickerJob
}

func newApp(conf *viper.Viper) *app {
	a := &app{}
	a.store = store.New()

	cfg := scoring.NewConfig()
	cfg.Capacity = scoring.CapacityTableFromViper(stringMapInt(conf.GetStringMap("capacity-table")))
	a.engine = scoring.NewEngine(a.store, cfg)

	a.queue = importpipeline.NewQueue()
	fetcher := importpipeline.NewRelayFetcher()
	a.importer = importpipeline.NewImporter(a.store, a.engine, a.queue, fetcher, importpipeline.JSONParser{})
	a.scheduler = importpipeline.NewScheduler(a.store, a.queue)

	a.manager = subscription.NewManager(a.store, conf.GetInt("client-failure-limit"))
	a.dispatcher = rpc.NewDispatcher(a.store, a.engine, a.manager, stdoutDeliver)
	a.deployer = subscription.NewDeployer(a.manager, a.dispatcher)

	importDelay := time.Duration(conf.GetInt("import-delay-ms")) * time.Millisecond
	subDelay := time.Duration(conf.GetInt("subscription-delay-ms")) * time.Millisecond
	a.importJob = actors.NewTickerJob(importDelay, a.importer.Run)
	a.scheduleJob = actors.NewTickerJob(importDelay, a.scheduler.Run)
	a.subscribeJob = actors.NewTickerJob(subDelay, a.deployer.Run)
	return a
}

func stringMapInt(raw map[string]interface{}) map[string]int {
	out := make(map[string]int, len(raw))
	for k, v := range raw {
		out[k] = cast.ToInt(v)
	}
	return out
}

func stdoutDeliver(clientHandle string, msg rpc.NotificationMessage) error {
	fmt.Printf("[%s] %s\n", clientHandle, msg.Notification.Type)
	return nil
}

func (a *app) start() {
	actors.GetWaitGroup().Add(1)
	a.scheduleJob.Trigger()
	a.importJob.Trigger()
	a.subscribeJob.Trigger()
	importpipeline.WatchForWake(a.importJob, a.scheduleJob)
}

func (a *app) stop() {
	a.importJob.Terminate()
	a.scheduleJob.Terminate()
	a.subscribeJob.Terminate()
	a.importJob.WaitForTermination(0)
	a.scheduleJob.WaitForTermination(0)
	a.subscribeJob.WaitForTermination(0)
	a.manager.Close()
	actors.GetWaitGroup().Done()
}

func loadConfig() *viper.Viper {
	conf := viper.New()
	actors.InitConfig(conf)
	actors.SetConfig(conf)
	return conf
}

func main() {
	root := &cobra.Command{
		Use:   "wotctl",
		Short: "run and inspect a trust graph node",
	}
	root.AddCommand(serveCmd(), inspectCmd(), importCmd())
	if err := root.Execute(); err != nil {
		library.Log(err.Error(), 0)
		os.Exit(1)
	}
}
