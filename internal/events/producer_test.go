package events

import (
	"bytes"
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("producer", Ordered, func() {
	Context("write", func() {
		It("writes successfully", func() {
			w := newTestWriter()
			ep := NewEventProducer(w)

			msg := []byte(`{"document_id":"doc-1"}`)
			err := ep.Write(context.TODO(), DocumentStateMessageKind, bytes.NewReader(msg))
			Expect(err).To(BeNil())

			msg = []byte(`{"job_id":"job-1"}`)
			err = ep.Write(context.TODO(), JobAttemptMessageKind, bytes.NewReader(msg))
			Expect(err).To(BeNil())

			Eventually(func() int { return w.Count() }, "2s").Should(Equal(2))
			Expect(w.Message(0).Context.GetType()).To(Equal(DocumentStateMessageKind))
			Expect(w.Message(1).Context.GetType()).To(Equal(JobAttemptMessageKind))

			ep.Close()
		})

		It("keeps draining after an idle period", func() {
			w := newTestWriter()
			ep := NewEventProducer(w)

			err := ep.Write(context.TODO(), DocumentStateMessageKind, bytes.NewReader([]byte("a")))
			Expect(err).To(BeNil())
			Eventually(func() int { return w.Count() }, "2s").Should(Equal(1))

			<-time.After(100 * time.Millisecond)

			err = ep.Write(context.TODO(), DocumentStateMessageKind, bytes.NewReader([]byte("b")))
			Expect(err).To(BeNil())
			Eventually(func() int { return w.Count() }, "2s").Should(Equal(2))

			ep.Close()
		})
	})
})

type testwriter struct {
	lock     sync.Mutex
	messages []cloudevents.Event
}

func newTestWriter() *testwriter {
	return &testwriter{messages: []cloudevents.Event{}}
}

func (t *testwriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.messages = append(t.messages, e)
	return nil
}

func (t *testwriter) Close(_ context.Context) error {
	return nil
}

func (t *testwriter) Count() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.messages)
}

func (t *testwriter) Message(i int) cloudevents.Event {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.messages[i]
}
