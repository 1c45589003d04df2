// Package httpapi exposes the registry over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/inodb/vrs-registry/internal/annotate"
	"github.com/inodb/vrs-registry/internal/config"
	"github.com/inodb/vrs-registry/internal/jobs"
	"github.com/inodb/vrs-registry/internal/registry"
	"github.com/inodb/vrs-registry/internal/storage"
	"github.com/inodb/vrs-registry/internal/translate"
	"github.com/inodb/vrs-registry/internal/vrs"
)

// Version is stamped at build time.
var Version = "dev"

const vrsVersion = "2.0"

// Server wires the registry, the VCF pipeline and the job queue into
// a gin router.
type Server struct {
	cfg        *config.Config
	registry   *registry.Registry
	annotator  *annotate.Annotator
	translator translate.Translator
	queue      *jobs.Queue
	logger     *zap.Logger
}

// NewServer builds a server. queue may be nil, which disables async
// VCF runs.
func NewServer(cfg *config.Config, reg *registry.Registry, ann *annotate.Annotator, translator translate.Translator, queue *jobs.Queue, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, registry: reg, annotator: ann, translator: translator, queue: queue, logger: logger}
}

// Router assembles the route table.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	if s.cfg.Auth.Enabled() {
		r.Use(NewAuthenticator(s.cfg.Auth, s.logger).Middleware())
	}

	r.GET("/info", s.getInfo)
	r.GET("/service-info", s.getServiceInfo)

	r.PUT("/variation", s.putVariation)
	r.POST("/variation", s.postVariation)
	r.PUT("/variations", s.putVariations)
	r.PUT("/vrs_variation", s.putVrsVariation)

	r.GET("/object/:id", s.getObject)
	r.POST("/object/:id/annotations", s.postAnnotation)
	r.GET("/object/:id/annotations/:type", s.getAnnotations)
	r.PUT("/object/:id/mappings", s.putMapping)
	r.GET("/object/:id/mappings/:type", s.getMappings)

	r.GET("/search", s.getSearch)
	r.GET("/stats/:vartype", s.getStats)

	r.PUT("/vcf", s.putVCF)
	r.PUT("/annotated_vcf", s.putAnnotatedVCF)
	r.GET("/vcf/:run_id", s.getVCFRun)

	return r
}

func (s *Server) getInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"anyvar":    gin.H{"version": Version},
		"ga4gh_vrs": gin.H{"version": vrsVersion},
	})
}

func (s *Server) getServiceInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"id":   "org.ga4gh.vrs-registry",
		"name": "vrs-registry",
		"type": gin.H{
			"group":    "org.ga4gh",
			"artifact": "vrs-registry",
			"version":  Version,
		},
		"description": "Registry for GA4GH VRS variation objects",
		"organization": gin.H{
			"name": "vrs-registry",
			"url":  "https://github.com/inodb/vrs-registry",
		},
		"version": Version,
	})
}

// variationRequest is the register/lookup request body.
type variationRequest struct {
	Definition   string          `json:"definition" binding:"required"`
	InputType    string          `json:"input_type"`
	Copies       *vrs.Coordinate `json:"copies"`
	CopyChange   string          `json:"copy_change"`
	AssemblyName string          `json:"assembly_name"`
}

func (r variationRequest) options() translate.Options {
	return translate.Options{
		InputType:    r.InputType,
		AssemblyName: r.AssemblyName,
		Copies:       r.Copies,
		CopyChange:   r.CopyChange,
	}
}

func (s *Server) putVariation(c *gin.Context) {
	var req variationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.registerOne(c, req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// registerOne translates a definition and registers it with the
// standard extras.
func (s *Server) registerOne(c *gin.Context, req variationRequest) (*registry.Result, error) {
	v, err := s.registry.Translate(c.Request.Context(), req.Definition, req.options())
	if err != nil {
		return nil, err
	}
	return s.registry.RegisterWithExtras(c.Request.Context(), v, registry.Extras{
		Timestamp: true,
		Liftover:  true,
	})
}

func (s *Server) putVariations(c *gin.Context) {
	var reqs []variationRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// Input order is preserved; per-item failures become messages.
	out := make([]*registry.Result, len(reqs))
	for i, req := range reqs {
		res, err := s.registerOne(c, req)
		if err != nil {
			var cerr *translate.ConnectionError
			if errors.As(err, &cerr) {
				s.writeError(c, err)
				return
			}
			res = &registry.Result{Messages: []string{err.Error()}}
		}
		out[i] = res
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) putVrsVariation(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	obj, err := vrs.FromJSON(raw)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	v, ok := obj.(vrs.Variation)
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "body is not a variation"})
		return
	}
	res, err := s.registry.RegisterWithExtras(c.Request.Context(), v, registry.Extras{Timestamp: true})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) postVariation(c *gin.Context) {
	var req variationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.registry.Lookup(c.Request.Context(), req.Definition, req.options())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getObject(c *gin.Context) {
	obj, err := s.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": obj})
}

type annotationRequest struct {
	Type  string          `json:"annotation_type" binding:"required"`
	Value json.RawMessage `json:"annotation_value"`
}

func (s *Server) postAnnotation(c *gin.Context) {
	var req annotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ann := storage.Annotation{
		ObjectID: c.Param("id"),
		Type:     req.Type,
		Value:    req.Value,
	}
	id, err := s.registry.Annotate(c.Request.Context(), ann)
	if err != nil {
		s.writeError(c, err)
		return
	}
	ann.ID = id
	c.JSON(http.StatusOK, ann)
}

func (s *Server) getAnnotations(c *gin.Context) {
	anns, err := s.registry.Annotations(c.Request.Context(), c.Param("id"), c.Param("type"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if anns == nil {
		anns = []storage.Annotation{}
	}
	c.JSON(http.StatusOK, gin.H{"annotations": anns})
}

type mappingRequest struct {
	DestID string `json:"dest_id" binding:"required"`
	Type   string `json:"mapping_type" binding:"required"`
}

func (s *Server) putMapping(c *gin.Context) {
	var req mappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m := storage.Mapping{
		SourceID: c.Param("id"),
		DestID:   req.DestID,
		Type:     storage.MappingType(req.Type),
	}
	if err := storage.ValidateMapping(m); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err := s.registry.Map(c.Request.Context(), m); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) getMappings(c *gin.Context) {
	maps, err := s.registry.Mappings(c.Request.Context(), c.Param("id"),
		storage.MappingType(c.Param("type")))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if maps == nil {
		maps = []storage.Mapping{}
	}
	c.JSON(http.StatusOK, gin.H{"mappings": maps})
}

func (s *Server) getSearch(c *gin.Context) {
	accession := c.Query("accession")
	start, err := strconv.ParseInt(c.Query("start"), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "start must be an integer"})
		return
	}
	end, err := strconv.ParseInt(c.Query("end"), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "end must be an integer"})
		return
	}
	alleles, err := s.registry.Search(c.Request.Context(), accession, start, end)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if alleles == nil {
		alleles = []*vrs.Allele{}
	}
	c.JSON(http.StatusOK, gin.H{"variations": alleles})
}

// statTypes maps the public stats categories onto storage classes.
var statTypes = map[string][]storage.ObjectType{
	"allele":             {storage.ObjectTypeAllele},
	"copy_number_count":  {storage.ObjectTypeCopyNumberCount},
	"copy_number_change": {storage.ObjectTypeCopyNumberChange},
	"all": {
		storage.ObjectTypeAllele,
		storage.ObjectTypeCopyNumberCount,
		storage.ObjectTypeCopyNumberChange,
	},
}

func (s *Server) getStats(c *gin.Context) {
	vartype := c.Param("vartype")
	types, ok := statTypes[vartype]
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": fmt.Sprintf("unknown variation type %q", vartype)})
		return
	}
	var total int64
	for _, typ := range types {
		n, err := s.registry.Count(c.Request.Context(), typ)
		if err != nil {
			s.writeError(c, err)
			return
		}
		total += n
	}
	c.JSON(http.StatusOK, gin.H{"variation_type": vartype, "count": total})
}

// writeError maps domain errors onto status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		terr  *translate.TranslationError
		cerr  *translate.ConnectionError
		nferr *registry.NotFoundError
		mrerr *storage.MissingReferenceError
		dierr *storage.DataIntegrityError
		sperr *storage.InvalidSearchParamsError
		iaerr *annotate.InvalidAssemblyError
	)
	switch {
	case errors.As(err, &nferr), errors.As(err, &mrerr):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &terr), errors.As(err, &sperr), errors.As(err, &iaerr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &dierr):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &cerr):
		s.logger.Error("translator unreachable", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
