package main

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

func printState(msg *structpb.Struct) {
	f := msg.GetFields()

	fmt.Println("\n=== PLAYER STATE ===")
	if id := f["sessionId"].GetStringValue(); id != "" {
		fmt.Printf("Session ID: %s\n", id)
	}
	fmt.Printf("Transport: %s\n", formatTransport(f["playing"].GetBoolValue()))
	fmt.Printf("Volume: %.0f%%", f["volume"].GetNumberValue()*100)
	if f["muted"].GetBoolValue() {
		fmt.Print(" (muted)")
	}
	fmt.Println()
	fmt.Printf("Shuffle: %v  Repeat: %s\n", f["shuffle"].GetBoolValue(), f["repeat"].GetStringValue())

	if cur := f["current"].GetStructValue(); cur != nil {
		c := cur.GetFields()
		fmt.Println("\nCurrently Playing:")
		fmt.Printf("  %s - %s\n", c["artist"].GetStringValue(), c["title"].GetStringValue())
		fmt.Printf("  %s  %s\n", f["elapsed"].GetStringValue(), f["remaining"].GetStringValue())
		if p := c["previewUrl"].GetStringValue(); p != "" {
			fmt.Printf("  Preview: %s\n", p)
		} else {
			fmt.Println("  Preview: (none)")
		}
	}

	queue := f["queue"].GetListValue().GetValues()
	if len(queue) == 0 {
		fmt.Println("\nQueue is empty")
		return
	}
	index := int(f["index"].GetNumberValue())
	fmt.Printf("\nQueue (%d):\n", len(queue))
	for i, v := range queue {
		marker := "  "
		if i == index {
			marker = "> "
		}
		fmt.Printf("%s%d. %s\n", marker, i, formatTrack(v.GetStructValue()))
	}
}

func printSearch(msg *structpb.Struct) {
	f := msg.GetFields()
	tracks := f["tracks"].GetListValue().GetValues()
	if len(tracks) == 0 {
		fmt.Println("No results")
		return
	}

	fmt.Printf("Results from %s:\n", f["provider"].GetStringValue())
	for i, v := range tracks {
		fmt.Printf("  %d. %s\n", i, formatTrack(v.GetStructValue()))
	}
}

func printRows(msg *structpb.Struct) {
	rows := msg.GetFields()["rows"].GetListValue().GetValues()
	if len(rows) == 0 {
		fmt.Println("Crate is empty")
		return
	}

	fmt.Printf("Crate (%d):\n", len(rows))
	for i, v := range rows {
		r := v.GetStructValue().GetFields()
		fmt.Printf("  %d. %s - %s", i, r["artist"].GetStringValue(), r["title"].GetStringValue())
		if bpm := r["bpm"].GetNumberValue(); bpm > 0 {
			fmt.Printf(" [%.0f BPM]", bpm)
		}
		if key := r["key"].GetStringValue(); key != "" {
			fmt.Printf(" [%s]", key)
		}
		fmt.Println()
	}
}

func printNotification(msg *structpb.Struct) {
	f := msg.GetFields()
	fmt.Printf("\n[Sequence: %.0f] === %s ===\n", f["sequenceNo"].GetNumberValue(), f["change"].GetStringValue())

	st := f["state"].GetStructValue().GetFields()
	progress := f["progress"].GetStructValue().GetFields()
	fmt.Printf("  %s  %s %s\n",
		formatTransport(st["playing"].GetBoolValue()),
		progress["elapsed"].GetStringValue(),
		progress["remaining"].GetStringValue())
	if cur := st["current"].GetStructValue(); cur != nil {
		fmt.Printf("  %s\n", formatTrack(cur))
	}
}

func formatTrack(t *structpb.Struct) string {
	f := t.GetFields()
	s := fmt.Sprintf("%s - %s", f["artist"].GetStringValue(), f["title"].GetStringValue())
	if f["previewUrl"].GetStringValue() == "" {
		s += " (no preview)"
	}
	return s
}

func formatTransport(playing bool) string {
	if playing {
		return "▶️  Playing"
	}
	return "⏸  Paused"
}
