package fetch

import "fmt"

// ChunkTask is one byte range of a chunked transfer. End is inclusive.
type ChunkTask struct {
	Index    int
	Start    int64
	End      int64
	Received int64
}

// Size returns the number of bytes the chunk covers.
func (c ChunkTask) Size() int64 {
	return c.End - c.Start + 1
}

// Range returns the Range header value for the chunk.
func (c ChunkTask) Range() string {
	return fmt.Sprintf("bytes=%d-%d", c.Start, c.End)
}

// ChunkCount picks how many ranges to split total bytes into:
// ceil(total/target) clamped to [minChunks, maxChunks].
func ChunkCount(total, target int64, minChunks, maxChunks int) int {
	if target <= 0 {
		return minChunks
	}
	n := (total + target - 1) / target
	switch {
	case n < int64(minChunks):
		return minChunks
	case n > int64(maxChunks):
		return maxChunks
	default:
		return int(n)
	}
}

// PlanChunks splits [0, total-1] into count contiguous, non-overlapping
// ranges whose sizes differ by at most one byte. count is reduced when the
// resource has fewer bytes than requested chunks.
func PlanChunks(total int64, count int) []ChunkTask {
	if total <= 0 || count <= 0 {
		return nil
	}
	if int64(count) > total {
		count = int(total)
	}
	base := total / int64(count)
	extra := total % int64(count)

	tasks := make([]ChunkTask, count)
	var start int64
	for i := range tasks {
		size := base
		if int64(i) < extra {
			size++
		}
		tasks[i] = ChunkTask{Index: i, Start: start, End: start + size - 1}
		start += size
	}
	return tasks
}
