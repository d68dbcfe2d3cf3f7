package rpcchan

import "context"

// inProcess is a Channel that dispatches directly onto a Handler in the
// same process, skipping serialization entirely. Used for single-node
// deployments and tests.
type inProcess struct {
	h Handler
}

// InProcess wraps h as a Channel with zero network overhead.
func InProcess(h Handler) Channel {
	return &inProcess{h: h}
}

func (c *inProcess) Get(ctx context.Context, req GetRequest) (GetResponse, error) {
	return c.h.HandleGet(ctx, req)
}

func (c *inProcess) Prepare(ctx context.Context, req PrepareRequest) (PrepareResponse, error) {
	return c.h.HandlePrepare(ctx, req)
}

func (c *inProcess) Commit(ctx context.Context, req CommitRequest) error {
	return c.h.HandleCommit(ctx, req)
}

func (c *inProcess) Abort(ctx context.Context, req AbortRequest) error {
	return c.h.HandleAbort(ctx, req)
}

func (c *inProcess) Split(ctx context.Context, req SplitRequest) (SplitResponse, error) {
	return c.h.HandleSplit(ctx, req)
}

func (c *inProcess) AllocRowID(ctx context.Context, req AllocRowIDRequest) (AllocRowIDResponse, error) {
	return c.h.HandleAllocRowID(ctx, req)
}
