package peerrpc

// MessageKind identifies what an element of an inbound frame turned out to be.
type MessageKind int

const (
	MessageUndefined MessageKind = iota
	MessageRequest
	MessageResponse
)

// Message is one classified element of an inbound frame.
//
// Exactly one of Request and Response is set when Err is nil. When Err is set the
// element could not be decoded; ID then holds the element's id if one could be read,
// so that an error response can still be addressed.
type Message struct {
	Request  *Request
	Response *Response
	Err      error
	ID       ID
	Kind     MessageKind
}

// Batch is an ordered list of messages sent together in one frame.
//
// See: https://www.jsonrpc.org/specification#batch
type Batch[B interface{ *Request | *Response }] []B

// NewBatch creates a new, empty [Batch] with an initial capacity of size.
func NewBatch[B *Request | *Response](size int) Batch[B] {
	return make(Batch[B], 0, size)
}

// Add appends one or more items to the batch.
func (b *Batch[B]) Add(v ...B) {
	*b = append(*b, v...)
}

// Len returns the number of items in the batch.
func (b Batch[B]) Len() int {
	return len(b)
}
