package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inodb/vrs-registry/internal/annotate"
	"github.com/inodb/vrs-registry/internal/jobs"
	"github.com/inodb/vrs-registry/internal/storage"
)

func queryBool(c *gin.Context, name string) bool {
	v, err := strconv.ParseBool(c.Query(name))
	return err == nil && v
}

func (s *Server) putVCF(c *gin.Context) {
	opts := annotate.Options{
		Assembly:         c.DefaultQuery("assembly", "GRCh38"),
		ComputeForRef:    queryBool(c, "for_ref"),
		AddVRSAttributes: queryBool(c, "add_vrs_attributes"),
		AllowAsyncWrite:  queryBool(c, "allow_async_write"),
	}
	if err := annotate.ValidateAssembly(opts.Assembly); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	if queryBool(c, "run_async") {
		s.submitRun(c, opts.ComputeForRef, func(ctx context.Context, store storage.Store, inPath, runID string) (string, error) {
			return s.runAnnotate(ctx, store, inPath, runID, opts)
		})
		return
	}

	var out bytes.Buffer
	_, err := s.annotator.AnnotateVCF(c.Request.Context(), c.Request.Body, &out, opts)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/plain", out.Bytes())
}

func (s *Server) putAnnotatedVCF(c *gin.Context) {
	opts := annotate.IngestOptions{
		Assembly:          c.DefaultQuery("assembly", "GRCh38"),
		RequireValidation: queryBool(c, "require_validation"),
		AllowAsyncWrite:   queryBool(c, "allow_async_write"),
	}
	if err := annotate.ValidateAssembly(opts.Assembly); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	if queryBool(c, "run_async") {
		s.submitRun(c, false, func(ctx context.Context, store storage.Store, inPath, runID string) (string, error) {
			return s.runIngest(ctx, store, inPath, runID, opts)
		})
		return
	}

	var conflicts bytes.Buffer
	_, err := s.annotator.IngestAnnotated(c.Request.Context(), c.Request.Body, &conflicts, opts)
	if err != nil {
		var rerr *annotate.RequiredAnnotationsError
		if errors.As(err, &rerr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		s.writeError(c, err)
		return
	}
	if conflicts.Len() == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	c.Data(http.StatusOK, "text/csv", conflicts.Bytes())
}

// runTask executes one async run against the worker pool's store.
type runTask func(ctx context.Context, store storage.Store, inPath, runID string) (outputPath string, err error)

// submitRun spools the request body to the work directory and queues
// the run.
func (s *Server) submitRun(c *gin.Context, computeForRef bool, task runTask) {
	if s.queue == nil || s.cfg.AsyncWorkDir == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "asynchronous processing is not configured"})
		return
	}
	runID := c.Query("run_id")
	if runID == "" {
		runID = uuid.NewString()
	}

	// Reject reused run IDs before touching the work directory.
	existing, err := s.queue.Status(c.Request.Context(), runID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if existing.State != jobs.StatePending {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf(
			"an existing run with id %s is %s; fetch its result before submitting with the same run_id",
			runID, existing.State)})
		return
	}

	// The spool name carries its own unique suffix so a concurrent
	// duplicate submission can never clobber an in-flight run's input.
	inPath := filepath.Join(s.cfg.AsyncWorkDir, runID+"_"+uuid.NewString()+"_input.vcf")
	sites, err := spoolBody(c.Request.Body, inPath)
	if err != nil {
		s.logger.Error("failed to spool async input", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store the uploaded file"})
		return
	}

	retryAfter := jobs.RetryAfter(sites, computeForRef, s.cfg.ExpectedIDsPerSecond)
	err = s.queue.Submit(c.Request.Context(), runID, retryAfter, func(ctx context.Context, store storage.Store) (string, error) {
		defer os.Remove(inPath)
		return task(ctx, store, inPath, runID)
	})
	if err != nil {
		os.Remove(inPath)
		var derr *jobs.DuplicateRunError
		if errors.As(err, &derr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.writeError(c, err)
		return
	}

	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.JSON(http.StatusAccepted, gin.H{
		"run_id":         runID,
		"status":         "PENDING",
		"status_message": "run submitted; poll GET /vcf/" + runID,
	})
}

// spoolBody writes the upload to path and counts its data lines for
// the Retry-After estimate.
func spoolBody(body io.Reader, path string) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	sites := 0
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) > 0 && line[0] != '#' {
			sites++
		}
		if _, err := w.Write(line); err != nil {
			return 0, err
		}
		if err := w.WriteByte('\n'); err != nil {
			return 0, err
		}
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return sites, w.Flush()
}

// runAnnotate is the async counterpart of the synchronous PUT /vcf
// path.
func (s *Server) runAnnotate(ctx context.Context, store storage.Store, inPath, runID string, opts annotate.Options) (string, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return "", err
	}
	defer in.Close()

	outPath := filepath.Join(s.cfg.AsyncWorkDir, runID+"_output.vcf")
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	worker := annotate.NewAnnotator(store, s.translator)
	worker.SetLogger(s.logger)
	if _, err := worker.AnnotateVCF(ctx, in, out, opts); err != nil {
		os.Remove(outPath)
		return "", err
	}
	return outPath, out.Close()
}

// runIngest is the async counterpart of PUT /annotated_vcf. An empty
// output path means the run produced no conflicts.
func (s *Server) runIngest(ctx context.Context, store storage.Store, inPath, runID string, opts annotate.IngestOptions) (string, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return "", err
	}
	defer in.Close()

	outPath := filepath.Join(s.cfg.AsyncWorkDir, runID+"_conflicts.csv")
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	worker := annotate.NewAnnotator(store, s.translator)
	worker.SetLogger(s.logger)
	stats, err := worker.IngestAnnotated(ctx, in, out, opts)
	if err != nil {
		os.Remove(outPath)
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	if stats.Conflicts == 0 {
		os.Remove(outPath)
		return "", nil
	}
	return outPath, nil
}

// cleanupRun drops a delivered run's output file and stored state.
// Failures only lose disk space, so they are logged and ignored.
func (s *Server) cleanupRun(runID, outputPath string) {
	if err := os.Remove(outputPath); err != nil {
		s.logger.Warn("failed to remove run output",
			zap.String("run_id", runID), zap.Error(err))
	}
	if err := s.queue.Forget(context.Background(), runID); err != nil {
		s.logger.Warn("failed to forget run state",
			zap.String("run_id", runID), zap.Error(err))
	}
}

func (s *Server) getVCFRun(c *gin.Context) {
	if s.queue == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "asynchronous processing is not configured"})
		return
	}
	runID := c.Param("run_id")
	r, err := s.queue.Status(c.Request.Context(), runID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	switch r.State {
	case jobs.StatePending:
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown run %q", runID)})
	case jobs.StateSent:
		retry := r.RetryAfter
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.JSON(http.StatusAccepted, gin.H{
			"run_id":         runID,
			"status":         "PENDING",
			"status_message": "run is still being processed",
		})
	case jobs.StateSuccess:
		// Results are delivered once; later polls report the run as
		// unknown.
		if r.OutputPath == "" {
			if err := s.queue.Forget(c.Request.Context(), runID); err != nil {
				s.logger.Warn("failed to forget run state",
					zap.String("run_id", runID), zap.Error(err))
			}
			c.Status(http.StatusNoContent)
			return
		}
		c.File(r.OutputPath)
		s.cleanupRun(runID, r.OutputPath)
	case jobs.StateFailure:
		status := s.cfg.AsyncFailureStatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{
			"run_id":     runID,
			"status":     string(r.State),
			"error_code": string(r.ErrorCode),
			"message":    r.Message,
		})
	}
}
