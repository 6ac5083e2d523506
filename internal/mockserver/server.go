// Package mockserver is a development stand-in for the ingest and OTA
// servers: it accepts image uploads the way the production endpoint does
// and serves the firmware catalog and images from a directory.
package mockserver

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/tidwall/jsonc"

	"github.com/bft-labs/tagcam/internal/ports"
)

// Catalog file names looked up under the server root, in order.
var catalogNames = []string{"manifest.json", "manifest.jsonc"}

// UploadsDir is the directory under the root where uploads are saved.
const UploadsDir = "uploads"

const maxUploadBytes = 16 << 20

// Upload describes one received image.
type Upload struct {
	Serial     uint64
	Filename   string
	Path       string
	Size       int64
	ReceivedAt time.Time
}

// Server serves uploads and OTA files rooted at one directory.
type Server struct {
	root   string
	logger ports.Logger

	mu      sync.Mutex
	uploads []Upload
}

// New creates a server rooted at root.
func New(root string, logger ports.Logger) *Server {
	return &Server{root: root, logger: logger}
}

// Uploads returns the uploads received so far.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Upload, len(s.uploads))
	copy(out, s.uploads)
	return out
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintln(w, "OK")
	}).Methods(http.MethodGet)
	r.HandleFunc("/post", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/manifest.json", s.handleManifest).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(s.firmwareFiles()).Methods(http.MethodGet, http.MethodHead)
	return r
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	serial, err := strconv.ParseUint(strings.TrimSpace(r.Header.Get("rfid-serial-number")), 10, 64)
	if err != nil || serial == 0 {
		http.Error(w, "Expected key `rfid-serial-number` in the header", http.StatusExpectationFailed)
		return
	}

	contentType := r.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)

	switch {
	case mediaType == "image/jpeg" && r.Header.Get("Content-Length") != "":
		name := dispositionFilename(r.Header.Get("Content-Disposition"))
		if err := s.save(serial, name, body); err != nil {
			s.fail(w, err)
			return
		}
	case mediaType == "multipart/form-data":
		n, err := s.saveParts(serial, r)
		if err != nil {
			s.fail(w, err)
			return
		}
		if n == 0 {
			http.Error(w, "couldn't find file name(s).", http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, fmt.Sprintf("Unsupported media type %s, expected image/jpeg along with Content-Length or multipart/form-data", contentType), http.StatusUnsupportedMediaType)
		return
	}

	_, _ = fmt.Fprintf(w, "Got image for rfid tag %d", serial)
}

// saveParts stores every file part. Chunked and fixed-length bodies are
// both handled by the transport.
func (s *Server) saveParts(serial uint64, r *http.Request) (int, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return 0, err
	}
	saved := 0
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return saved, nil
		}
		if err != nil {
			return saved, err
		}
		if part.FileName() == "" {
			_ = part.Close()
			continue
		}
		err = s.save(serial, part.FileName(), part)
		_ = part.Close()
		if err != nil {
			return saved, err
		}
		saved++
	}
}

func (s *Server) save(serial uint64, name string, body io.Reader) error {
	name = SanitizeFilename(name)
	dir := filepath.Join(s.root, UploadsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	path := filepath.Join(dir, fmt.Sprintf("%d_%s", serial, name))
	if _, err := os.Stat(path); err == nil {
		ext := filepath.Ext(name)
		path = filepath.Join(dir, fmt.Sprintf("%d_%s_%s%s", serial, strings.TrimSuffix(name, ext), uuid.NewString()[:8], ext))
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return err
	}

	up := Upload{Serial: serial, Filename: name, Path: path, Size: n, ReceivedAt: time.Now()}
	s.mu.Lock()
	s.uploads = append(s.uploads, up)
	s.mu.Unlock()

	s.logger.Info("image received",
		ports.Uint64("tag", serial),
		ports.String("file", path),
		ports.Int64("bytes", n),
	)
	return nil
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.logger.Warn("upload rejected", ports.Err(err))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		http.Error(w, "image too large", http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, "could not store image", http.StatusBadRequest)
}

// handleManifest serves the catalog as plain JSON. The file on disk may
// carry comments and trailing commas.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	data, _, err := readCatalog(s.root)
	if errors.Is(err, os.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("read catalog", ports.Err(err))
		http.Error(w, "catalog unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// firmwareFiles serves firmware images from the root. Uploads are not
// exposed.
func (s *Server) firmwareFiles() http.Handler {
	files := http.FileServer(http.Dir(s.root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clean := filepath.ToSlash(filepath.Clean("/" + r.URL.Path))
		if clean == "/" || strings.HasPrefix(clean, "/"+UploadsDir+"/") || clean == "/"+UploadsDir {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}

// readCatalog returns the catalog converted to plain JSON and the path it
// was read from.
func readCatalog(root string) ([]byte, string, error) {
	for _, name := range catalogNames {
		path := filepath.Join(root, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, path, err
		}
		return jsonc.ToJSON(data), path, nil
	}
	return nil, filepath.Join(root, catalogNames[0]), os.ErrNotExist
}

var dispositionName = regexp.MustCompile(`filename="?([^";]+)"?`)

func dispositionFilename(h string) string {
	if _, params, err := mime.ParseMediaType(h); err == nil && params["filename"] != "" {
		return params["filename"]
	}
	if m := dispositionName.FindStringSubmatch(h); m != nil {
		return m[1]
	}
	return ""
}

// SanitizeFilename strips characters that are not allowed in file names
// along with surrounding whitespace. A name that is empty, or empty apart
// from its extension, is replaced by file_<uuid><ext>.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(strings.Map(func(r rune) rune {
		if strings.ContainsRune(`\/:*?"<>|`, r) {
			return -1
		}
		return r
	}, name))
	ext := filepath.Ext(name)
	if strings.TrimSuffix(name, ext) == "" {
		return "file_" + strings.ReplaceAll(uuid.NewString(), "-", "") + ext
	}
	return name
}
