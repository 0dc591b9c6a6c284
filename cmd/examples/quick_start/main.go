package main

import (
	"fmt"
	"log"
	"time"

	"github.com/TheAlpha16/powerctl-go"
)

func main() {
	connected := make(chan struct{})

	// Create a controller for the remote power daemon
	c, err := powerctl.NewController("ws://localhost:8080/",
		powerctl.WithObserver(powerctl.ObserverFunc(func(evt powerctl.LifecycleEvent) {
			switch evt.Type {
			case powerctl.EventConnected:
				fmt.Println("Connected!")
				close(connected)
			case powerctl.EventMessageReceived:
				fmt.Printf("Peer replied: %s\n", evt.Payload)
			case powerctl.EventDisconnected:
				fmt.Printf("Disconnected: %s (code %d)\n", evt.Reason, evt.Code)
			case powerctl.EventConnectionError:
				fmt.Printf("Connection error: %v\n", evt.Err)
			}
		})),
	)
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}
	defer c.Shutdown()

	c.Connect()

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		log.Fatalf("Not connected, state is %s", c.State())
	}

	if err := c.SendCommand(powerctl.CommandSleep); err != nil {
		log.Printf("Failed to send command: %v", err)
	}

	// Keep the connection open for a bit to see the reply
	time.Sleep(time.Second)

	c.Disconnect()
	time.Sleep(500 * time.Millisecond)
	fmt.Println("Quick start example completed!")
}
