package live

import (
	"sync"
	"testing"
)

func TestBroadcastReachesCaseSubscribersOnly(t *testing.T) {
	hub := NewHub()

	a := hub.Subscribe("case-a")
	b := hub.Subscribe("case-a")
	other := hub.Subscribe("case-b")
	defer hub.Unsubscribe("case-a", a)
	defer hub.Unsubscribe("case-a", b)
	defer hub.Unsubscribe("case-b", other)

	hub.Broadcast("case-a", []byte("update"))

	for _, ch := range []chan []byte{a, b} {
		select {
		case got := <-ch:
			if string(got) != "update" {
				t.Errorf("got %q, want %q", got, "update")
			}
		default:
			t.Error("subscriber did not receive the event")
		}
	}
	select {
	case <-other:
		t.Error("subscriber of another case received the event")
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()

	ch := hub.Subscribe("case-a")
	hub.Unsubscribe("case-a", ch)

	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
	if n := hub.Subscribers("case-a"); n != 0 {
		t.Errorf("got %d subscribers, want 0", n)
	}

	// second call is a no-op
	hub.Unsubscribe("case-a", ch)
}

func TestBroadcastSkipsFullSubscriber(t *testing.T) {
	hub := NewHub()

	slow := hub.Subscribe("case-a")
	defer hub.Unsubscribe("case-a", slow)

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Broadcast("case-a", []byte("event"))
	}

	drained := 0
	for {
		select {
		case <-slow:
			drained++
			continue
		default:
		}
		break
	}
	if drained != subscriberBuffer {
		t.Errorf("got %d buffered events, want %d", drained, subscriberBuffer)
	}
}

func TestConcurrentSubscribeBroadcast(t *testing.T) {
	hub := NewHub()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := hub.Subscribe("case-a")
			hub.Broadcast("case-a", []byte("event"))
			hub.Unsubscribe("case-a", ch)
		}()
	}
	wg.Wait()

	if n := hub.Subscribers("case-a"); n != 0 {
		t.Errorf("got %d subscribers after teardown, want 0", n)
	}
}
