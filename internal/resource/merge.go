package resource

import (
	"time"

	rcache "owconsole/internal/cache/resource"
)

// Merge rules: scalar fields are always present in responses and overwrite
// the cached value. Heavy fields are pointers or slices; nil means "not sent"
// and keeps what is cached.

func keepPtr[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}

func keepSlice[T any](dst *[]T, src []T) {
	if src != nil {
		*dst = src
	}
}

func keepTime(dst *time.Time, src time.Time) {
	if !src.IsZero() {
		*dst = src
	}
}

func mergeWorker(dst *Worker, src Worker) {
	dst.ID = src.ID
	dst.Name = src.Name
	dst.Desc = src.Desc
	if src.Language != "" {
		dst.Language = src.Language
	}
	dst.Environment = src.Environment
	keepPtr(&dst.Script, src.Script)
	keepSlice(&dst.Crons, src.Crons)
	keepSlice(&dst.Domains, src.Domains)
	keepTime(&dst.CreatedAt, src.CreatedAt)
	keepTime(&dst.UpdatedAt, src.UpdatedAt)
}

func mergeEnvironment(dst *Environment, src Environment) {
	dst.ID = src.ID
	dst.Name = src.Name
	dst.Desc = src.Desc
	keepSlice(&dst.Values, src.Values)
	keepSlice(&dst.Workers, src.Workers)
	keepTime(&dst.CreatedAt, src.CreatedAt)
	keepTime(&dst.UpdatedAt, src.UpdatedAt)
}

func mergeDatabase(dst *Database, src Database) {
	dst.ID = src.ID
	dst.Name = src.Name
	dst.Desc = src.Desc
	if src.Provider != "" {
		dst.Provider = src.Provider
	}
	keepPtr(&dst.MaxRows, src.MaxRows)
	keepPtr(&dst.TimeoutSeconds, src.TimeoutSeconds)
	keepTime(&dst.CreatedAt, src.CreatedAt)
	keepTime(&dst.UpdatedAt, src.UpdatedAt)
}

func mergeKvNamespace(dst *KvNamespace, src KvNamespace) {
	dst.ID = src.ID
	dst.Name = src.Name
	dst.Desc = src.Desc
	keepTime(&dst.CreatedAt, src.CreatedAt)
	keepTime(&dst.UpdatedAt, src.UpdatedAt)
}

func mergeStorageConfig(dst *StorageConfig, src StorageConfig) {
	dst.ID = src.ID
	dst.Name = src.Name
	dst.Desc = src.Desc
	if src.Mode != "" {
		dst.Mode = src.Mode
	}
	keepPtr(&dst.Bucket, src.Bucket)
	keepPtr(&dst.Prefix, src.Prefix)
	keepPtr(&dst.Endpoint, src.Endpoint)
	keepPtr(&dst.Region, src.Region)
	keepPtr(&dst.PublicURL, src.PublicURL)
	keepTime(&dst.CreatedAt, src.CreatedAt)
	keepTime(&dst.UpdatedAt, src.UpdatedAt)
}

var (
	workerKind = rcache.Config[Worker]{
		Name:      "workers",
		ID:        func(w Worker) string { return w.ID },
		UpdatedAt: func(w Worker) time.Time { return w.UpdatedAt },
		Merge:     mergeWorker,
	}
	environmentKind = rcache.Config[Environment]{
		Name:      "environments",
		ID:        func(e Environment) string { return e.ID },
		UpdatedAt: func(e Environment) time.Time { return e.UpdatedAt },
		Merge:     mergeEnvironment,
	}
	databaseKind = rcache.Config[Database]{
		Name:      "databases",
		ID:        func(d Database) string { return d.ID },
		UpdatedAt: func(d Database) time.Time { return d.UpdatedAt },
		Merge:     mergeDatabase,
	}
	kvKind = rcache.Config[KvNamespace]{
		Name:      "kv",
		ID:        func(n KvNamespace) string { return n.ID },
		UpdatedAt: func(n KvNamespace) time.Time { return n.UpdatedAt },
		Merge:     mergeKvNamespace,
	}
	storageKind = rcache.Config[StorageConfig]{
		Name:      "storage",
		ID:        func(s StorageConfig) string { return s.ID },
		UpdatedAt: func(s StorageConfig) time.Time { return s.UpdatedAt },
		Merge:     mergeStorageConfig,
	}
)
