package resource

import "time"

type ResourceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type EnvironmentRef = ResourceRef

type Cron struct {
	ID         string     `json:"id"`
	Expression string     `json:"expression"`
	NextRun    *time.Time `json:"nextRun,omitempty"`
}

// Worker is a deployed script. List responses omit Script; single fetches
// include it only when asked for.
type Worker struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Desc        string          `json:"desc,omitempty"`
	Language    string          `json:"language,omitempty"`
	Script      *string         `json:"script,omitempty"`
	Environment *EnvironmentRef `json:"environment,omitempty"`
	Crons       []Cron          `json:"crons"`
	Domains     []string        `json:"domains"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type WorkerCreateInput struct {
	Name     string `json:"name"`
	Desc     string `json:"desc,omitempty"`
	Language string `json:"language,omitempty"`
}

type WorkerUpdateInput struct {
	ID          string   `json:"-"`
	Name        *string  `json:"name,omitempty"`
	Desc        *string  `json:"desc,omitempty"`
	Script      *string  `json:"script,omitempty"`
	Language    *string  `json:"language,omitempty"`
	Environment *string  `json:"environment,omitempty"`
	Domains     []string `json:"domains,omitempty"`
}

func (u WorkerUpdateInput) ResourceID() string { return u.ID }

type EnvironmentValue struct {
	ID     string `json:"id,omitempty"`
	Key    string `json:"key"`
	Value  string `json:"value"`
	Secret bool   `json:"secret,omitempty"`
}

type Environment struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Desc      string             `json:"desc,omitempty"`
	Values    []EnvironmentValue `json:"values"`
	Workers   []ResourceRef      `json:"workers"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

type EnvironmentCreateInput struct {
	Name string `json:"name"`
	Desc string `json:"desc,omitempty"`
}

type EnvironmentUpdateInput struct {
	ID     string             `json:"-"`
	Name   *string            `json:"name,omitempty"`
	Desc   *string            `json:"desc,omitempty"`
	Values []EnvironmentValue `json:"values,omitempty"`
}

func (u EnvironmentUpdateInput) ResourceID() string { return u.ID }

type Database struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Desc           string    `json:"desc,omitempty"`
	Provider       string    `json:"provider,omitempty"`
	MaxRows        *int      `json:"maxRows,omitempty"`
	TimeoutSeconds *int      `json:"timeoutSeconds,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type DatabaseCreateInput struct {
	Name     string `json:"name"`
	Desc     string `json:"desc,omitempty"`
	Provider string `json:"provider,omitempty"`
}

type DatabaseUpdateInput struct {
	ID             string  `json:"-"`
	Name           *string `json:"name,omitempty"`
	Desc           *string `json:"desc,omitempty"`
	MaxRows        *int    `json:"maxRows,omitempty"`
	TimeoutSeconds *int    `json:"timeoutSeconds,omitempty"`
}

func (u DatabaseUpdateInput) ResourceID() string { return u.ID }

type KvNamespace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Desc      string    `json:"desc,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type KvNamespaceCreateInput struct {
	Name string `json:"name"`
	Desc string `json:"desc,omitempty"`
}

type KvNamespaceUpdateInput struct {
	ID   string  `json:"-"`
	Name *string `json:"name,omitempty"`
	Desc *string `json:"desc,omitempty"`
}

func (u KvNamespaceUpdateInput) ResourceID() string { return u.ID }

// StorageConfig is an object-storage binding, either platform-managed or a
// custom S3-compatible bucket.
type StorageConfig struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Desc      string    `json:"desc,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Bucket    *string   `json:"bucket,omitempty"`
	Prefix    *string   `json:"prefix,omitempty"`
	Endpoint  *string   `json:"endpoint,omitempty"`
	Region    *string   `json:"region,omitempty"`
	PublicURL *string   `json:"publicUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type StorageConfigCreateInput struct {
	Name            string `json:"name"`
	Desc            string `json:"desc,omitempty"`
	Mode            string `json:"mode,omitempty"`
	Bucket          string `json:"bucket,omitempty"`
	Prefix          string `json:"prefix,omitempty"`
	AccessKeyID     string `json:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	Region          string `json:"region,omitempty"`
	PublicURL       string `json:"publicUrl,omitempty"`
}

type StorageConfigUpdateInput struct {
	ID   string  `json:"-"`
	Name *string `json:"name,omitempty"`
	Desc *string `json:"desc,omitempty"`
}

func (u StorageConfigUpdateInput) ResourceID() string { return u.ID }
