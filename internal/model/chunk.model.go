package model

// ChunkMessage is the work-queue payload: one fixed-size slice of a
// job's recipients. The content travels with the chunk so workers never
// re-read the job body.
type ChunkMessage struct {
	JobID       string   `json:"job_id"`
	Seq         int      `json:"seq"`
	Channel     Channel  `json:"channel"`
	Content     string   `json:"content"`
	TemplateRef *string  `json:"template_ref,omitempty"`
	ContactIDs  []string `json:"contact_ids"`
}

// ChunkContactIDs partitions ids into fixed-size chunks, preserving order.
func ChunkContactIDs(ids []string, size int) [][]string {
	if size <= 0 {
		size = 100
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
