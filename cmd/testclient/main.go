package main

import (
	"context"
	"log"
	"time"

	grpcapi "github.com/lguibr/Mimeflow/internal/api/grpc"
	"github.com/lguibr/Mimeflow/internal/models"
	"github.com/lguibr/Mimeflow/internal/pose"
	"github.com/lguibr/Mimeflow/internal/service/estimator/mock"
	"github.com/lguibr/Mimeflow/internal/service/session"
)

func main() {
	client, conn, err := grpcapi.Dial("localhost:50051")
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Println("Connected to server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap, err := client.CreateSession(ctx, &grpcapi.CreateSessionRequest{
		Overrides: session.Overrides{ClipID: "smoke-test", PlayerName: "testclient"},
	})
	if err != nil {
		log.Fatalf("failed to create session: %v", err)
	}
	for _, action := range []session.Action{session.ActionReady, session.ActionStart} {
		if _, err := client.Control(ctx, &grpcapi.ControlRequest{SessionID: snap.SessionID, Action: string(action)}); err != nil {
			log.Fatalf("failed to %s: %v", action, err)
		}
	}

	stream, err := client.StreamFrames(ctx)
	if err != nil {
		log.Fatalf("failed to create stream: %v", err)
	}

	// Identical reference and live frames score 95 on every tick.
	for step := 0; step < 3; step++ {
		f := mock.Choreography(step, 30)
		for _, s := range []pose.Stream{pose.StreamReference, pose.StreamLive} {
			log.Printf("Sending frame: step=%d stream=%s", step, s)
			if err := stream.Send(models.NewFrameMessage(snap.SessionID, s, int64(step), 0, f)); err != nil {
				log.Fatalf("failed to send frame: %v", err)
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err := stream.CloseSend(); err != nil {
		log.Fatalf("failed to close stream: %v", err)
	}
	for {
		ev, err := stream.Recv()
		if err != nil {
			break
		}
		log.Printf("Received event: type=%s", ev.Type)
	}

	resp, err := client.Control(ctx, &grpcapi.ControlRequest{SessionID: snap.SessionID, Action: string(session.ActionFinalize)})
	if err != nil {
		log.Fatalf("failed to finalize: %v", err)
	}
	if resp.Record == nil {
		log.Fatalf("finalize returned no record: state=%s", resp.Snapshot.State)
	}
	log.Printf("Received record: sessionId=%s score=%d history=%v", resp.Record.SessionID, resp.Record.Score, resp.Record.History)
}
