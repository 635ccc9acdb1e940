package main

import (
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/gdbstub/gdbremote"
	"github.com/simeonmiteff/gdbstub/internal/stubmetrics"
)

// main wires a gdbremote.Stub to a listening socket and a minimal
// engine loop that answers every request with the simplest truthful
// reply it can, the way cmd/exporter_example1 wires a TCPInfoCollector
// to a loopback connection: enough to prove the pieces fit together,
// not a real replay engine.
func main() {
	addr := ":2345"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logrus.Fatalf("listen: %v", err)
	}
	logrus.Infof("gdbstub-demo: listening on %s, metrics on :18080/metrics", addr)

	collector := stubmetrics.NewCollector("gdbstub", prometheus.Labels{"app": "gdbstub-demo"})
	prometheus.MustRegister(collector)
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		logrus.Fatal(http.ListenAndServe(":18080", nil))
	}()

	for {
		if err := serveOne(listener, collector); err != nil {
			logrus.Warnf("gdbstub-demo: session ended: %v", err)
		}
	}
}

func serveOne(listener net.Listener, collector *stubmetrics.Collector) error {
	stub := gdbremote.NewStub(gdbremote.Options{
		TargetPID:               1,
		ReverseExecutionEnabled: true,
	})
	if err := stub.AwaitClient(listener); err != nil {
		return fmt.Errorf("await client: %w", err)
	}
	stub.SetMetrics(collector.SinkFor(stub.SessionID()))
	defer collector.Remove(stub.SessionID())

	threads := []gdbremote.ThreadID{{PID: 1, TID: 1}}

	for stub.IsConnectionAlive() {
		req, err := stub.GetRequest()
		if err != nil {
			return err
		}
		switch req.Kind {
		case gdbremote.KindDetach:
			_ = stub.ReplyDetach()
			return nil
		case gdbremote.KindGetStopReason, gdbremote.KindInterrupt:
			if err := stub.NotifyStop(threads[0], gdbremote.NoProtocolSignal, 0, false); err != nil {
				return err
			}
		case gdbremote.KindGetCurrentThread:
			if err := stub.ReplyCurrentThread(threads[0]); err != nil {
				return err
			}
		case gdbremote.KindSetContinueThread, gdbremote.KindSetQueryThread:
			if err := stub.ReplySetThread(true); err != nil {
				return err
			}
		case gdbremote.KindGetThreadList:
			if err := stub.ReplyThreadList(threads); err != nil {
				return err
			}
		case gdbremote.KindContinue:
			if err := stub.NotifyStop(threads[0], 5 /* SIGTRAP */, 0, false); err != nil {
				return err
			}
		case gdbremote.KindMemRead:
			mem := req.Mem()
			if err := stub.ReplyMemRead(make([]byte, mem.Len)); err != nil {
				return err
			}
		default:
			// Every other request kind is outside what this demo
			// implements; an empty reply tells the debugger the
			// stub doesn't support it.
			if err := stub.ReplyUnsupported(); err != nil {
				return err
			}
		}
	}
	return nil
}
