// Package notify forwards uevents to the outside world.
//
// Each sink implements uevent.Sink and is attached to a bus channel
// through a uevent.Queue, so a slow broker or database never stalls the
// registration path:
//
//	q := uevent.NewQueue("mqtt", notify.NewMQTTSink(client, uevent.FormatJSON, 1), 0)
//	unsubscribe := channel.Subscribe(q.Handle)
//	go q.Run(ctx)
package notify
