package resource

import (
	"owconsole/internal/broadcast"
	"owconsole/internal/transport"
)

type (
	Environments = Client[Environment, EnvironmentCreateInput, EnvironmentUpdateInput]
	Databases    = Client[Database, DatabaseCreateInput, DatabaseUpdateInput]
	KvNamespaces = Client[KvNamespace, KvNamespaceCreateInput, KvNamespaceUpdateInput]
	Storage      = Client[StorageConfig, StorageConfigCreateInput, StorageConfigUpdateInput]
)

func NewEnvironments(api *transport.Client, broker broadcast.Broker) *Environments {
	return NewClient[Environment, EnvironmentCreateInput, EnvironmentUpdateInput]("environments", api, broker, environmentKind)
}

func NewDatabases(api *transport.Client, broker broadcast.Broker) *Databases {
	return NewClient[Database, DatabaseCreateInput, DatabaseUpdateInput]("databases", api, broker, databaseKind)
}

func NewKvNamespaces(api *transport.Client, broker broadcast.Broker) *KvNamespaces {
	return NewClient[KvNamespace, KvNamespaceCreateInput, KvNamespaceUpdateInput]("kv", api, broker, kvKind)
}

func NewStorage(api *transport.Client, broker broadcast.Broker) *Storage {
	return NewClient[StorageConfig, StorageConfigCreateInput, StorageConfigUpdateInput]("storage", api, broker, storageKind)
}
