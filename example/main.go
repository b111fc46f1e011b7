package main

import (
	"context"
	"fmt"
	"os"
	"time"

	plume "github.com/plumeapp/plume.go"
	"github.com/plumeapp/plume.go/pkg/collab"
	"github.com/plumeapp/plume.go/pkg/logger"
	"github.com/plumeapp/plume.go/pkg/models"
	"github.com/plumeapp/plume.go/pkg/syncqueue"
)

func main() {
	// A transport that just logs each change; a real application posts the
	// change to its document API here.
	transport := syncqueue.TransportFunc(func(_ context.Context, change models.PendingChange) error {
		fmt.Printf("pushing %s change for document %s\n", change.Type, change.DocumentID)
		return nil
	})

	client, err := plume.New(plume.Config{
		StorePath: "plume.db",
		Transport: transport,
		CollabURL: "ws://localhost:8787/rooms",
		Logger:    logger.New(os.Stderr),
	})
	if err != nil {
		panic(err)
	}
	defer client.Close(context.Background())

	// Save a document; this enqueues an update change.
	doc, err := client.Store.SaveDocument(models.Document{
		ID:      "essai-1",
		Title:   "Mon premier essai",
		Content: "Bonjour tout le monde",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("saved %q at version %d (dirty=%v)\n", doc.Title, doc.Version, doc.IsDirty)

	// Coming online drains the queue in the background.
	client.Syncer.SetOnline(true)

	statusCh, stop := client.Syncer.Status.Subscribe(4)
	defer stop()
	select {
	case status := <-statusCh:
		fmt.Printf("sync status: online=%v pending=%d\n", status.IsOnline, status.PendingItems)
	case <-time.After(2 * time.Second):
	}

	// Join a collaboration room and type something.
	err = client.Session.Connect(context.Background(), collab.UserProfile{
		ID:   "user-amelie",
		Name: "Amélie",
	})
	if err != nil {
		fmt.Println("collaboration relay unavailable:", err)
		return
	}
	if err := client.Session.JoinRoom("salle-1", doc.ID); err != nil {
		panic(err)
	}

	op, err := client.Session.SendDocumentOperation(models.Operation{
		Type:     models.OpInsert,
		Position: 0,
		Text:     "Salut. ",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("sent operation v%d\n", op.Version)
}
