/*
Package journal records driver events to a BoltDB file so that a session can
be inspected or replayed later.

# Layout

	ports/            root bucket
	  <port>/         one bucket per port
	    <seq> → JSON  big-endian sequence number → Entry

Sequence numbers come from the bucket's NextSequence and start at 1, so a
cursor walks entries in the order they were recorded. Each Entry stores the
decoded event with its kind, which lets Replay hand back typed payloads.

# Usage

	j, err := journal.Open("/var/lib/blatann/journal.db")
	if err != nil {
		return err
	}
	defer j.Close()

	j.Attach(drv)

	err = j.Replay(drv.Port, func(e journal.Entry) error {
		router.Dispatch(nil, e.Event)
		return nil
	})

Attach subscribes to the driver's raw event stream; recording happens on the
driver's dispatch goroutine. Failed writes are logged and do not stop
dispatch.
*/
package journal
