// Command receiver connects to a relay, optionally requests a transfer, and
// saves every file it is sent.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/The-Promised-Neverland/vsharing/internal/protocol"
	"github.com/The-Promised-Neverland/vsharing/pkg/client"
	"github.com/The-Promised-Neverland/vsharing/pkg/logger"
)

func main() {
	relayURL := flag.String("relay", "http://localhost:3000", "relay base URL")
	saveDir := flag.String("dir", "Received Files", "directory for received files")
	room := flag.String("room", "", "room to join after connecting")
	fileID := flag.String("send", "", "file id to send; requires -to")
	to := flag.String("to", "", "receiving connection id for -send")
	once := flag.Bool("once", false, "exit after the first completed or failed transfer")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger.Init("receiver.log", *logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := client.Dial(dialCtx, *relayURL, client.Options{SaveDir: *saveDir})
	cancel()
	if err != nil {
		color.Red("Could not connect: %v", err)
		os.Exit(1)
	}
	defer c.Close()
	fmt.Printf("Connected as %s\n", color.CyanString(c.ID))

	if *room != "" {
		if err := c.JoinRoom(ctx, *room); err != nil {
			color.Red("Join failed: %v", err)
			os.Exit(1)
		}
	}
	if *fileID != "" {
		if *to == "" {
			color.Red("-send requires -to")
			os.Exit(2)
		}
		if err := c.StartTransfer(ctx, *fileID, *to); err != nil {
			color.Red("Transfer request failed: %v", err)
			os.Exit(1)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			color.Yellow("Disconnected from relay")
			return
		case ev, ok := <-c.Events():
			if !ok {
				return
			}
			finished := report(ev)
			if finished && *once {
				return
			}
		}
	}
}

// report prints ev and says whether it ends a transfer.
func report(ev client.Event) bool {
	switch ev.Type {
	case protocol.EventTransferStarted:
		fmt.Printf("Receiving %s (%d bytes)\n", color.CyanString(ev.FileInfo.Name), ev.FileInfo.Size)
	case protocol.EventFileChunk, protocol.EventTransferProgress:
		fmt.Printf("\r%s %3d%%", ev.FileID, ev.Progress)
	case protocol.EventFileData:
		fmt.Printf("%s %3d%%", ev.FileID, ev.Progress)
	case protocol.EventTransferComplete:
		fmt.Println()
		switch {
		case ev.Path != "":
			color.Green("Saved %s", ev.Path)
		case ev.Message != "":
			color.Yellow("%s: %s", ev.FileID, ev.Message)
		default:
			color.Green("Sent %s", ev.FileID)
		}
		return true
	case protocol.EventTransferError:
		fmt.Println()
		color.Red("Transfer error: %s", ev.Message)
		return true
	case protocol.EventTransferCancelled:
		fmt.Println()
		color.Yellow("Transfer cancelled: %s", ev.Message)
		return true
	case protocol.EventUserJoined:
		fmt.Printf("Peer %s joined %s\n", color.CyanString(ev.PeerID), ev.Message)
	case protocol.EventFileCheckResult:
		fmt.Printf("%s received: %t\n", ev.FileID, ev.HasFile)
	}
	return false
}
