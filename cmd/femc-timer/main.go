// Command femc-timer demonstrates the reactor's timer facility: a recurring
// "tick" timer logs each firing and cancels itself once a fixed count is
// reached, and a one-shot timer stops the loop shortly after.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pjsaksa/femc-go/errstack"
	"github.com/pjsaksa/femc-go/internal/diag"
	"github.com/pjsaksa/femc-go/reactor"
)

const (
	tickID     reactor.ContextID = 1
	shutdownID reactor.ContextID = 2
)

func main() {
	interval := flag.Duration("interval", 500*time.Millisecond, "tick interval")
	ticks := flag.Int("ticks", 10, "number of ticks before the recurring timer cancels itself")
	debug := flag.Bool("debug", false, "print the error stack and abort on the first handler failure")
	flag.Parse()

	logger := diag.New()

	loop, err := reactor.New(reactor.WithDebug(*debug), reactor.WithLogger(logger))
	if err != nil {
		fatal(err)
	}

	fired := 0
	err = loop.AddTimer(func(id reactor.ContextID) bool {
		fired++
		logger.Info("tick", map[string]string{"count": fmt.Sprint(fired)})

		if fired >= *ticks {
			errstack.PushConsistencyFailureID(errstack.ConsistencyKillRecurringTimer)
			return false
		}
		return true
	}, tickID, *interval, *interval)
	if err != nil {
		fatalStack(err)
	}

	err = loop.AddTimer(func(id reactor.ContextID) bool {
		loop.Shutdown()
		return true
	}, shutdownID, *interval*time.Duration(*ticks+2), 0)
	if err != nil {
		fatalStack(err)
	}

	if err := loop.Main(reactor.Infinite); err != nil {
		fatalStack(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "femc-timer:", err)
	os.Exit(1)
}

func fatalStack(err error) {
	errstack.PrintStack(os.Stderr)
	fatal(err)
}
