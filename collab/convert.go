package collab

import "whiteboard-server/core"

// CommandsToEvents expands a room's compact drawing history into the
// incremental event sequence clients replay on join. A stroke becomes a
// start event for its first point, a move for each interior point and an
// end for its last point, all tagged with the stroke's id, color, width and
// original timestamp. A one-point stroke becomes start+end, an empty stroke
// is dropped, and clear commands pass through. This runs once per join, not
// on the hot path.
func CommandsToEvents(commands []core.Command) []core.DrawEvent {
	events := make([]core.DrawEvent, 0, len(commands))

	for _, cmd := range commands {
		switch cmd.Type {
		case core.CommandClear:
			events = append(events, core.DrawEvent{
				Kind:      core.EventClear,
				Timestamp: cmd.Timestamp,
			})
		case core.CommandStroke:
			events = append(events, strokeToEvents(cmd)...)
		}
	}

	return events
}

func strokeToEvents(cmd core.Command) []core.DrawEvent {
	points := cmd.Data.Points
	if len(points) == 0 {
		return nil
	}

	events := make([]core.DrawEvent, 0, len(points)+1)
	event := func(kind string, p core.Point) core.DrawEvent {
		return core.DrawEvent{
			Kind:        kind,
			StrokeID:    cmd.Data.StrokeID,
			Point:       p,
			Color:       cmd.Data.Color,
			StrokeWidth: cmd.Data.StrokeWidth,
			Timestamp:   cmd.Timestamp,
		}
	}

	events = append(events, event(core.EventStart, points[0]))
	for i := 1; i < len(points)-1; i++ {
		events = append(events, event(core.EventMove, points[i]))
	}
	events = append(events, event(core.EventEnd, points[len(points)-1]))

	return events
}
