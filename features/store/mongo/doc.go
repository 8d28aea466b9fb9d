// Package mongo is the durable, multi-process store.JobStore,
// store.ArtifactStore, and store.TransactionalEventStore implementation,
// backed by MongoDB. It is a thin Store wrapper around clients/mongo.Client,
// which owns the bson document shapes and the driver calls.
package mongo
