// Package registry composes translation, storage, annotation, mapping
// and liftover into the service-level registration operations.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/inodb/vrs-registry/internal/liftover"
	"github.com/inodb/vrs-registry/internal/storage"
	"github.com/inodb/vrs-registry/internal/translate"
	"github.com/inodb/vrs-registry/internal/vrs"
)

// AnnotationCreationTimestamp marks when a variation first entered the
// registry.
const AnnotationCreationTimestamp = "creation_timestamp"

// Result is the outcome of a registration or lookup. Messages carry
// non-fatal problems (a failed liftover, translator warnings).
type Result struct {
	Object   vrs.Variation `json:"object"`
	ObjectID string        `json:"object_id"`
	Messages []string      `json:"messages"`
}

// Extras select the optional post-registration steps.
type Extras struct {
	// Timestamp attaches a creation_timestamp annotation unless the
	// object already has one.
	Timestamp bool
	// Liftover registers the variant lifted to the other assembly and
	// links the two with a liftover mapping.
	Liftover bool
}

// NotFoundError reports a lookup for an object the registry does not
// hold.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("object %q is not registered", e.ID)
}

// Registry is the service facade over a store, a translator and an
// optional lifter.
type Registry struct {
	store      storage.Store
	translator translate.Translator
	lifter     *liftover.Lifter
	logger     *zap.Logger
	now        func() time.Time
}

// New returns a registry. The lifter may be nil, in which case
// liftover extras report a message instead of a lifted variant.
func New(store storage.Store, translator translate.Translator, lifter *liftover.Lifter) *Registry {
	return &Registry{
		store:      store,
		translator: translator,
		lifter:     lifter,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
}

// SetLogger replaces the default no-op logger.
func (r *Registry) SetLogger(logger *zap.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Translate resolves a variant definition to an identified variation
// without storing it.
func (r *Registry) Translate(ctx context.Context, definition string, opts translate.Options) (vrs.Variation, error) {
	return r.translator.TranslateVariation(ctx, definition, opts)
}

// Register translates a variant definition and stores the resulting
// variation.
func (r *Registry) Register(ctx context.Context, definition string, opts translate.Options) (*Result, error) {
	v, err := r.translator.TranslateVariation(ctx, definition, opts)
	if err != nil {
		return nil, err
	}
	return r.RegisterVrs(ctx, v)
}

// RegisterVrs identifies and stores a pre-formed variation. Storing
// the same variation twice is a no-op yielding the same ID.
func (r *Registry) RegisterVrs(ctx context.Context, v vrs.Variation) (*Result, error) {
	if err := vrs.RecursiveIdentify(v); err != nil {
		return nil, err
	}
	if err := r.store.AddObjects(ctx, []vrs.Object{v}); err != nil {
		return nil, err
	}
	r.logger.Debug("registered variation", zap.String("id", v.GetID()))
	return &Result{Object: v, ObjectID: v.GetID()}, nil
}

// RegisterWithExtras registers a variation and then applies the
// selected extras. Extra failures never fail the registration; they
// are reported as messages on the result.
func (r *Registry) RegisterWithExtras(ctx context.Context, v vrs.Variation, extras Extras) (*Result, error) {
	res, err := r.RegisterVrs(ctx, v)
	if err != nil {
		return nil, err
	}
	if extras.Timestamp {
		if err := r.ensureTimestamp(ctx, res.ObjectID); err != nil {
			res.Messages = append(res.Messages, fmt.Sprintf("timestamp annotation failed: %v", err))
		}
	}
	if extras.Liftover {
		if msg := r.registerLifted(ctx, v); msg != "" {
			res.Messages = append(res.Messages, msg)
		}
	}
	return res, nil
}

// ensureTimestamp writes a creation_timestamp annotation unless one
// already exists.
func (r *Registry) ensureTimestamp(ctx context.Context, id string) error {
	existing, err := r.store.GetAnnotations(ctx, id, AnnotationCreationTimestamp)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	stamp, err := json.Marshal(r.now().UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}
	_, err = r.store.AddAnnotation(ctx, storage.Annotation{
		ObjectID: id,
		Type:     AnnotationCreationTimestamp,
		Value:    stamp,
	})
	return err
}

// registerLifted stores the variant lifted to the other assembly and
// links it to the source. Returns a message on failure, "" on success.
func (r *Registry) registerLifted(ctx context.Context, v vrs.Variation) string {
	if r.lifter == nil {
		return "liftover is not configured"
	}
	lifted, err := r.lifter.Lift(ctx, v)
	if err != nil {
		r.logger.Debug("liftover failed", zap.String("id", v.GetID()), zap.Error(err))
		return fmt.Sprintf("liftover failed: %v", err)
	}
	if err := r.store.AddObjects(ctx, []vrs.Object{lifted}); err != nil {
		return fmt.Sprintf("storing lifted variant failed: %v", err)
	}
	if err := r.store.AddMapping(ctx, storage.Mapping{
		SourceID: v.GetID(),
		DestID:   lifted.GetID(),
		Type:     storage.MappingLiftover,
	}); err != nil {
		return fmt.Sprintf("mapping lifted variant failed: %v", err)
	}
	return ""
}

// Lookup translates a definition and reports whether the resulting
// variation is already registered. Nothing is stored.
func (r *Registry) Lookup(ctx context.Context, definition string, opts translate.Options) (*Result, error) {
	v, err := r.translator.TranslateVariation(ctx, definition, opts)
	if err != nil {
		return nil, err
	}
	stored, err := r.store.GetObjects(ctx, storage.ObjectTypeOf(v), []string{v.GetID()})
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, &NotFoundError{ID: v.GetID()}
	}
	sv, ok := stored[0].(vrs.Variation)
	if !ok {
		return nil, fmt.Errorf("stored object %s is not a variation", v.GetID())
	}
	return &Result{Object: sv, ObjectID: sv.GetID()}, nil
}

// Get fetches any stored object by its identifier, trying each object
// class the identifier prefix admits.
func (r *Registry) Get(ctx context.Context, id string) (vrs.Object, error) {
	for _, typ := range typesForID(id) {
		objs, err := r.store.GetObjects(ctx, typ, []string{id})
		if err != nil {
			return nil, err
		}
		if len(objs) > 0 {
			return objs[0], nil
		}
	}
	return nil, &NotFoundError{ID: id}
}

// typesForID narrows the storage classes an identifier can live in.
func typesForID(id string) []storage.ObjectType {
	switch {
	case strings.HasPrefix(id, "ga4gh:"+vrs.PrefixAllele+"."):
		return []storage.ObjectType{storage.ObjectTypeAllele}
	case strings.HasPrefix(id, "ga4gh:"+vrs.PrefixCopyNumberCount+"."):
		return []storage.ObjectType{storage.ObjectTypeCopyNumberCount}
	case strings.HasPrefix(id, "ga4gh:"+vrs.PrefixCopyNumberChange+"."):
		return []storage.ObjectType{storage.ObjectTypeCopyNumberChange}
	case strings.HasPrefix(id, "ga4gh:"+vrs.PrefixSequenceLocation+"."):
		return []storage.ObjectType{storage.ObjectTypeSequenceLocation}
	case strings.HasPrefix(id, "SQ."):
		return []storage.ObjectType{storage.ObjectTypeSequenceReference}
	default:
		return []storage.ObjectType{
			storage.ObjectTypeAllele,
			storage.ObjectTypeCopyNumberCount,
			storage.ObjectTypeCopyNumberChange,
			storage.ObjectTypeSequenceLocation,
			storage.ObjectTypeSequenceReference,
		}
	}
}

// Count reports how many objects of one storage class are registered.
func (r *Registry) Count(ctx context.Context, typ storage.ObjectType) (int64, error) {
	return r.store.GetObjectCount(ctx, typ)
}

// Search returns the registered alleles contained in a half-open
// range on a refget accession.
func (r *Registry) Search(ctx context.Context, accession string, start, end int64) ([]*vrs.Allele, error) {
	return r.store.SearchAlleles(ctx, accession, start, end)
}

// Annotate attaches a free-form annotation and returns its row ID.
func (r *Registry) Annotate(ctx context.Context, a storage.Annotation) (int64, error) {
	return r.store.AddAnnotation(ctx, a)
}

// Annotations lists annotations on an object, optionally filtered by
// type.
func (r *Registry) Annotations(ctx context.Context, objectID, annotationType string) ([]storage.Annotation, error) {
	return r.store.GetAnnotations(ctx, objectID, annotationType)
}

// Map records a directed mapping between two registered variations.
func (r *Registry) Map(ctx context.Context, m storage.Mapping) error {
	return r.store.AddMapping(ctx, m)
}

// Mappings lists mappings from an object, optionally filtered by type.
func (r *Registry) Mappings(ctx context.Context, sourceID string, typ storage.MappingType) ([]storage.Mapping, error) {
	return r.store.GetMappings(ctx, sourceID, typ)
}
