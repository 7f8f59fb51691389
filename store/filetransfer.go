package store

import (
	"sync"
	"time"

	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/google/uuid"
)

// MaxFileTransferSize is the largest file a transfer session may carry,
// per spec.md §3.
const MaxFileTransferSize = 100 * 1024 * 1024

// FileChunkSize is the size of one file-transfer chunk; recovered from
// original_source's file-transfer chunking (the distilled spec mentions
// file transfer only as a NoisePayload sub-protocol, not its chunk size).
const FileChunkSize = 16384

// FileTransferStatus is the lifecycle state of a FileTransfer.
type FileTransferStatus int

const (
	FileTransferOffered FileTransferStatus = iota
	FileTransferInProgress
	FileTransferCompleted
	FileTransferFailed
	FileTransferCancelled
	FileTransferExpired
)

func (s FileTransferStatus) String() string {
	switch s {
	case FileTransferOffered:
		return "Offered"
	case FileTransferInProgress:
		return "InProgress"
	case FileTransferCompleted:
		return "Completed"
	case FileTransferFailed:
		return "Failed"
	case FileTransferCancelled:
		return "Cancelled"
	case FileTransferExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// FileMetadata describes the file being transferred, per spec.md §3.
type FileMetadata struct {
	Filename string
	Size     int64
	MIME     string
	HasMIME  bool
	SHA256   [32]byte
}

// FileTransfer is one in-flight or completed file-transfer session,
// identified by a UUID transfer id per spec.md §3.
type FileTransfer struct {
	TransferID uuid.UUID
	Sender     ids.PeerID
	Recipient  ids.PeerID
	Metadata   FileMetadata
	Status     FileTransferStatus

	totalChunks    int
	receivedChunks []bool

	StartedAt    time.Time
	LastActivity time.Time
}

// NewFileTransfer creates an Offered transfer for metadata, sized for
// ceil(size / FileChunkSize) chunks, per spec.md §3's invariant
// chunks_received.len == total_chunks.
func NewFileTransfer(sender, recipient ids.PeerID, meta FileMetadata, now time.Time) (*FileTransfer, error) {
	if meta.Size < 0 || meta.Size > MaxFileTransferSize {
		return nil, ids.Newf(ids.KindStorage, "file size %d exceeds max %d", meta.Size, MaxFileTransferSize)
	}
	total := int((meta.Size + FileChunkSize - 1) / FileChunkSize)
	if total == 0 {
		total = 1
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, ids.Wrap(ids.KindStorage, "generate transfer id", err)
	}
	return &FileTransfer{
		TransferID:     id,
		Sender:         sender,
		Recipient:      recipient,
		Metadata:       meta,
		Status:         FileTransferOffered,
		totalChunks:    total,
		receivedChunks: make([]bool, total),
		StartedAt:      now,
		LastActivity:   now,
	}, nil
}

// TotalChunks reports the number of chunks this transfer is divided into.
func (ft *FileTransfer) TotalChunks() int { return ft.totalChunks }

// ReceiveChunk marks chunk index as received, updates LastActivity, and
// transitions to Completed once every chunk has arrived.
func (ft *FileTransfer) ReceiveChunk(index int, now time.Time) error {
	if index < 0 || index >= ft.totalChunks {
		return ids.Newf(ids.KindStorage, "chunk index %d out of range [0,%d)", index, ft.totalChunks)
	}
	if ft.Status != FileTransferOffered && ft.Status != FileTransferInProgress {
		return ids.Newf(ids.KindStorage, "cannot receive chunk in status %s", ft.Status)
	}
	ft.receivedChunks[index] = true
	ft.LastActivity = now
	if ft.Status == FileTransferOffered {
		ft.Status = FileTransferInProgress
	}
	if ft.allChunksReceived() {
		ft.Status = FileTransferCompleted
	}
	return nil
}

func (ft *FileTransfer) allChunksReceived() bool {
	for _, r := range ft.receivedChunks {
		if !r {
			return false
		}
	}
	return true
}

// FileTransferRegistry tracks in-flight FileTransfer sessions by id.
type FileTransferRegistry struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*FileTransfer
}

// NewFileTransferRegistry constructs an empty registry.
func NewFileTransferRegistry() *FileTransferRegistry {
	return &FileTransferRegistry{byID: make(map[uuid.UUID]*FileTransfer)}
}

// Add registers a new transfer.
func (r *FileTransferRegistry) Add(ft *FileTransfer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[ft.TransferID] = ft
}

// Get looks up a transfer by id.
func (r *FileTransferRegistry) Get(id uuid.UUID) (*FileTransfer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ft, ok := r.byID[id]
	return ft, ok
}

// Remove drops a transfer from the registry, e.g. once terminal.
func (r *FileTransferRegistry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// ExpireStale transitions transfers idle beyond ttl to Expired and
// returns their ids.
func (r *FileTransferRegistry) ExpireStale(now time.Time, ttl time.Duration) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []uuid.UUID
	for id, ft := range r.byID {
		if ft.Status == FileTransferCompleted || ft.Status == FileTransferFailed ||
			ft.Status == FileTransferCancelled || ft.Status == FileTransferExpired {
			continue
		}
		if now.Sub(ft.LastActivity) >= ttl {
			ft.Status = FileTransferExpired
			expired = append(expired, id)
		}
	}
	return expired
}
