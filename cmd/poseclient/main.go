package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"time"

	grpcapi "github.com/lguibr/Mimeflow/internal/api/grpc"
	"github.com/lguibr/Mimeflow/internal/recording"
	"github.com/lguibr/Mimeflow/internal/service/session"
)

func main() {
	takeFile := flag.String("recording", "take.cbor", "Path to a recording (.cbor or .jsonl)")
	serverAddr := flag.String("server", "localhost:50051", "gRPC server address")
	player := flag.String("player", "player-"+time.Now().Format("150405"), "Player name")
	clipID := flag.String("clip", "", "Clip id (defaults to the recording header)")
	realtime := flag.Bool("realtime", true, "Pace frames by their recorded offsets")
	flag.Parse()

	r, err := recording.Open(*takeFile)
	if err != nil {
		log.Fatalf("Failed to open recording: %v", err)
	}
	defer r.Close()

	h := r.Header()
	log.Printf("Recording: skeleton=%s joints=%d frameRate=%.1f clip=%s", h.Skeleton, h.Joints, h.FrameRate, h.ClipID)
	if *clipID == "" {
		*clipID = h.ClipID
	}

	// Connect to gRPC server
	client, conn, err := grpcapi.Dial(*serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("Connected to %s", *serverAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	snap, err := client.CreateSession(ctx, &grpcapi.CreateSessionRequest{
		Overrides: session.Overrides{ClipID: *clipID, PlayerName: *player},
	})
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}
	for _, action := range []session.Action{session.ActionReady, session.ActionStart} {
		if _, err := client.Control(ctx, &grpcapi.ControlRequest{SessionID: snap.SessionID, Action: string(action)}); err != nil {
			log.Fatalf("Failed to %s session: %v", action, err)
		}
	}

	stream, err := client.StreamFrames(ctx)
	if err != nil {
		log.Fatalf("Failed to create stream: %v", err)
	}

	log.Printf("Streaming frames: sessionId=%s player=%s", snap.SessionID, *player)

	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		for {
			ev, err := stream.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					log.Printf("Stream closed: %v", err)
				}
				return
			}
			switch ev.Type {
			case grpcapi.EventTick:
				t := ev.Tick
				log.Printf("Tick %d: similarity=%.3f avg=%.1f%% lag=%d", t.Sequence, t.RawSimilarity, t.RunningAveragePercent, t.Lag)
			case grpcapi.EventError:
				log.Printf("Frame %d rejected: %s", ev.Sequence, ev.Error)
			}
		}
	}()

	var sent int
	startTime := time.Now()
	for {
		msg, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read recording: %v", err)
		}

		if *realtime {
			if wait := time.Until(startTime.Add(time.Duration(msg.OffsetMs) * time.Millisecond)); wait > 0 {
				time.Sleep(wait)
			}
		}
		msg.SessionID = snap.SessionID
		if err := stream.Send(msg); err != nil {
			log.Fatalf("Failed to send frame: %v", err)
		}
		sent++
		if sent%100 == 0 {
			log.Printf("Sent frame %d (offset=%dms)", sent, msg.OffsetMs)
		}
	}

	log.Printf("Finished streaming: %d frames in %v", sent, time.Since(startTime))
	if err := stream.CloseSend(); err != nil {
		log.Fatalf("Failed to close stream: %v", err)
	}
	<-recvDone

	resp, err := client.Control(ctx, &grpcapi.ControlRequest{SessionID: snap.SessionID, Action: string(session.ActionFinalize)})
	if err != nil {
		log.Fatalf("Failed to finalize: %v", err)
	}
	if resp.Record != nil {
		log.Printf("Session completed: sessionId=%s score=%d%% entries=%d", resp.Record.SessionID, resp.Record.Score, len(resp.Record.History))
	}
}
