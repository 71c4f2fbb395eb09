// Package models defines domain entities and persistence interfaces for the mvx asset migration pipeline.
//
// The package contains two categories of types:
//
// 1. Data Transfer Objects (DTOs): values exchanged with the CMS and the object store
//   - [Asset] : A CMS media document whose binary lives on the CMS CDN
//   - [Sidecar] : Migration metadata written back onto the CMS document
//   - [Reference] : A document that points at an asset
//   - [Part] : One uploaded part of a multipart upload
//   - [UploadedAsset] : Identity of a binary uploaded to the CMS asset store
//
// 2. Persistent Entities: Database-backed models with full lifecycle management
//   - [TransferRecord] : The terminal outcome of one transfer operation
//   - [WorklistRun] : Counters of a bulk run, saved when the run stops
//
// Persistent entities implement the Model interface providing ID generation, timestamps, and validation.
// The Repository[T] interface defines standard CRUD operations for database access.
package models
