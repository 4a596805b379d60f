package kernel

import (
	"context"
	"errors"
	"fmt"

	"ex-xmtpcache/internal/cachedb"
	"ex-xmtpcache/pkg/xmtpcache"
)

// Snapshot is one immutable configuration generation.
//
// Codecs, namespaces, processors, validators, and the database handle always
// come from the same Configure call.
type Snapshot struct {
	// ID uniquely identifies this snapshot in logs.
	ID string
	// Generation orders snapshots published by one provider.
	Generation uint64
	// Version is the schema version recorded in the database.
	Version uint64
	// Configs is the configuration sequence this snapshot was derived from.
	Configs []xmtpcache.CacheConfiguration
	// Codecs is the combined codec list.
	Codecs xmtpcache.CodecList
	// Namespaces is the combined namespace table.
	Namespaces xmtpcache.NamespaceMap
	// Processors is the combined processor table.
	Processors xmtpcache.ProcessorMap
	// Validators is the combined content validator table.
	Validators xmtpcache.ValidatorMap
	// DB is the database handle serving Namespaces.
	DB *cachedb.DB

	schema cachedb.Schema
}

// ProcessResult summarizes caching one message.
type ProcessResult struct {
	// ContentType is the content type of the processed message.
	ContentType xmtpcache.ContentType
	// Processors is how many processors ran.
	Processors int
	// Failed is how many processors returned an error or invalid mutations.
	Failed int
	// Collected is how many mutations the successful processors produced.
	Collected int
	// Mutations is how many mutations were committed.
	Mutations int
}

// Committed reports whether every collected mutation reached the store.
func (r ProcessResult) Committed() bool {
	return r.Mutations == r.Collected
}

// Process decodes message, runs every processor registered for its content
// type, and commits the collected mutations as one batch.
//
// A failing processor does not stop the others. Its error is returned as a
// *xmtpcache.ProcessorError joined with any other processor failures, while
// mutations of the successful processors are still committed.
func (s *Snapshot) Process(ctx context.Context, message xmtpcache.Message) (ProcessResult, error) {
	if err := message.Validate(); err != nil {
		return ProcessResult{}, fmt.Errorf("process message: %w", err)
	}

	result := ProcessResult{ContentType: message.ContentType()}
	decoded, err := s.Codecs.Decode(message)
	if err != nil {
		return result, fmt.Errorf("process message %s: %w", message.ID, err)
	}
	if !s.Validators.Valid(result.ContentType, decoded.Content) {
		return result, fmt.Errorf("process message %s %s: %w", message.ID, result.ContentType, xmtpcache.ErrInvalidContent)
	}

	namespace, _ := s.Namespaces.Lookup(result.ContentType)
	input := xmtpcache.ProcessorInput{
		Message:    decoded,
		Namespace:  namespace,
		Namespaces: s.Namespaces,
	}

	var (
		pending       []xmtpcache.Mutation
		processorErrs []error
	)
	for index, processor := range s.Processors[result.ContentType] {
		result.Processors++
		mutations, err := runSafely(func() ([]xmtpcache.Mutation, error) {
			return processor(ctx, input)
		})
		if err == nil {
			err = s.checkMutations(mutations)
		}
		if err != nil {
			result.Failed++
			processorErrs = append(processorErrs, &xmtpcache.ProcessorError{
				ContentType: result.ContentType,
				Index:       index,
				MessageID:   message.ID,
				Cause:       err,
			})
			continue
		}
		pending = append(pending, mutations...)
	}

	var applyErr error
	result.Collected = len(pending)
	if len(pending) > 0 {
		if err := s.DB.Apply(ctx, pending); err != nil {
			applyErr = fmt.Errorf("commit mutations: %w", err)
		} else {
			result.Mutations = len(pending)
		}
	}

	if err := errors.Join(append(processorErrs, applyErr)...); err != nil {
		return result, fmt.Errorf("process message %s: %w", message.ID, err)
	}

	return result, nil
}

// checkMutations rejects output that the writer would refuse, so one bad
// processor cannot fail the batch of the others.
func (s *Snapshot) checkMutations(mutations []xmtpcache.Mutation) error {
	for _, mutation := range mutations {
		if err := mutation.Validate(); err != nil {
			return err
		}
		if !s.DB.HasTable(mutation.Namespace) {
			return fmt.Errorf("mutation %s/%s: %w", mutation.Namespace, mutation.Key, xmtpcache.ErrUnknownTable)
		}
	}

	return nil
}

// Table returns the table backing contentType.
func (s *Snapshot) Table(contentType xmtpcache.ContentType) (*cachedb.Table, error) {
	namespace, found := s.Namespaces.Lookup(contentType)
	if !found {
		return nil, fmt.Errorf("table for %s: %w", contentType, xmtpcache.ErrUnknownTable)
	}

	return s.DB.Table(namespace)
}
