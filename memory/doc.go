// Package memory provides a per-user semantic memory of session summaries.
//
// Every saved summary is embedded into a vector, appended to a shared
// vector index and to the owning user's partition, and the whole state is
// snapshotted to disk. Retrieval works per user: most-recent records, or
// records most similar to a query text. The same records seed the opening
// prompts of the next session.
//
// Architecture:
//   - Embedder: text-to-vector conversion (ONNX all-MiniLM-L6-v2 locally, mock in tests)
//   - Index: append-only vector index (flat global slots, or chromem-go per user)
//   - partition.Store: ordered records per user
//   - Persister: durable snapshot of index and partitions (snapshot.File)
//   - Service: the Manager façade composing the above
//
// Integration:
//   - End of session: Save(summary, emotions)
//   - Prompt building: RecentSummaries / SimilarSummaries
//   - Start of session: GenerateSessionPrompts
package memory
