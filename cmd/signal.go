package main

import (
	"os"
	"os/signal"
	"syscall"
)

var interruptChannel chan os.Signal

var (
	addHandlerChannel     = make(chan func())
	interruptHandlersDone = make(chan struct{})
)

var signals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// mainInterruptHandler runs the registered handlers in reverse order once a
// signal arrives, then closes interruptHandlersDone.
func mainInterruptHandler() {
	var handlers []func()
	for {
		select {
		case <-interruptChannel:
			signal.Stop(interruptChannel)
			for i := len(handlers) - 1; i >= 0; i-- {
				handlers[i]()
			}
			close(interruptHandlersDone)
			return
		case handler := <-addHandlerChannel:
			handlers = append(handlers, handler)
		}
	}
}

func addInterruptHandler(handler func()) {
	if interruptChannel == nil {
		interruptChannel = make(chan os.Signal, 1)
		signal.Notify(interruptChannel, signals...)
		go mainInterruptHandler()
	}
	addHandlerChannel <- handler
}
