package ring

// Exchange performs one ring step: it sends payload to the successor rank
// and receives the predecessor's payload, blocking until both directions
// complete. Every rank must call Exchange in the same step with a payload
// of the same shape; a rank that fails to participate stalls the entire
// ring. There is no timeout at this layer.
//
// The payload is an ordered set of float32 buffers (key shard, value shard,
// optionally an encoded mask shard). Buffers are handed over by reference;
// the caller must not touch a payload after sending it.
func (c *Context) Exchange(payload [][]float32) [][]float32 {
	if c.WorldSize == 1 {
		return payload
	}
	c.w.links[c.Rank] <- payload
	pred := (c.Rank - 1 + c.WorldSize) % c.WorldSize
	return <-c.w.links[pred]
}
