package queue

import "testing"

func TestFIFOOrder(t *testing.T) {
	q := New[int]()
	if _, ok := q.Dequeue(); ok {
		t.Fatal("empty queue should dequeue nothing")
	}
	q.Enqueue(1)
	q.Enqueue(2)
	q.Enqueue(3)
	if q.Len() != 3 {
		t.Fatalf("len: want=3 got=%d", q.Len())
	}
	for want := 1; want <= 3; want++ {
		got, ok := q.Dequeue()
		if !ok || got != want {
			t.Fatalf("dequeue: want=%d got=%d ok=%v", want, got, ok)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("drained queue should dequeue nothing")
	}
}

func TestClear(t *testing.T) {
	q := New[string]()
	q.Enqueue("a")
	q.Enqueue("b")
	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("len after clear: got %d", q.Len())
	}
	q.Enqueue("c")
	if got, ok := q.Dequeue(); !ok || got != "c" {
		t.Fatalf("queue should be reusable after clear, got %q ok=%v", got, ok)
	}
}
