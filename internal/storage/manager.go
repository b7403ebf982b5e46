package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/docmanager/backend/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for paths that do not name a stored file.
	ErrNotFound = errors.New("file not found")
	// ErrInvalidPath is returned for names or paths escaping the uploads root.
	ErrInvalidPath = errors.New("invalid path")
	// ErrExists is returned when a write would replace an existing file.
	ErrExists = errors.New("file already exists")
)

// Store defines the interface for the hierarchical document store.
type Store interface {
	EnsureTarget(t models.Target) (string, error)
	ListFiles(t models.Target) ([]string, error)
	WriteFile(t models.Target, name string, r io.Reader) (*models.FileInfo, error)
	ArchiveFile(t models.Target, archiveDir, name string) (string, error)
	Open(rel string) (*os.File, *models.FileInfo, error)
	Stat(rel string) (*models.FileInfo, error)
	Tree(projects []string) ([]models.ProjectNode, error)
	Search(keyword string, projects []string) ([]*models.FileInfo, error)
	SaveChunk(uploadID string, chunkIndex int, r io.Reader) error
	AssembleChunks(uploadID string, totalChunks int) (string, int64, error)
	DiscardChunks(uploadID string) error
}

// LocalStore implements Store on the local filesystem as
// <uploadDir>/<project>/<discipline>/<phase>/<file>, with archive subfolders
// one level below the phase directory.
type LocalStore struct {
	uploadDir string
	tempDir   string
	now       func() time.Time
}

// NewLocalStore creates a new LocalStore. Chunked uploads are staged under tempDir.
func NewLocalStore(uploadDir, tempDir string) (*LocalStore, error) {
	for _, dir := range []string{uploadDir, tempDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	abs, err := filepath.Abs(uploadDir)
	if err != nil {
		return nil, fmt.Errorf("resolving upload directory: %w", err)
	}

	return &LocalStore{
		uploadDir: abs,
		tempDir:   tempDir,
		now:       time.Now,
	}, nil
}

// Root returns the absolute uploads directory.
func (s *LocalStore) Root() string {
	return s.uploadDir
}

// TargetDir returns the directory of t without creating it.
func (s *LocalStore) TargetDir(t models.Target) (string, error) {
	for _, c := range []string{t.Project, t.Discipline, t.Phase} {
		if err := validateComponent(c); err != nil {
			return "", err
		}
	}
	return filepath.Join(s.uploadDir, t.Project, t.Discipline, t.Phase), nil
}

// EnsureTarget creates the directory of t if needed.
func (s *LocalStore) EnsureTarget(t models.Target) (string, error) {
	dir, err := s.TargetDir(t)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating target directory: %w", err)
	}
	return dir, nil
}

// ListFiles returns the names of the live files in t, sorted. Subdirectories
// such as archive folders are skipped. A missing target lists as empty.
func (s *LocalStore) ListFiles(t models.Target) ([]string, error) {
	dir, err := s.TargetDir(t)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("listing target directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// WriteFile stores r as name inside t. It never replaces an existing file.
func (s *LocalStore) WriteFile(t models.Target, name string, r io.Reader) (*models.FileInfo, error) {
	if err := validateComponent(name); err != nil {
		return nil, err
	}
	dir, err := s.EnsureTarget(t)
	if err != nil {
		return nil, err
	}
	p := filepath.Join(dir, name)

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrExists, name)
		}
		return nil, fmt.Errorf("creating file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(p)
		return nil, fmt.Errorf("writing file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(p)
		return nil, fmt.Errorf("closing file: %w", err)
	}

	return s.Stat(path.Join(t.Project, t.Discipline, t.Phase, name))
}

// ArchiveFile moves name from t into the archiveDir subfolder of t and returns
// the destination relative to the uploads root. The subfolder is created on
// first use. A name already present in the archive is kept and the incoming
// file gets a timestamp suffix.
func (s *LocalStore) ArchiveFile(t models.Target, archiveDir, name string) (string, error) {
	if err := validateComponent(archiveDir); err != nil {
		return "", err
	}
	if err := validateComponent(name); err != nil {
		return "", err
	}
	dir, err := s.TargetDir(t)
	if err != nil {
		return "", err
	}
	archivePath := filepath.Join(dir, archiveDir)
	if err := os.MkdirAll(archivePath, 0755); err != nil {
		return "", fmt.Errorf("creating archive directory: %w", err)
	}

	destName := name
	if _, err := os.Lstat(filepath.Join(archivePath, destName)); err == nil {
		destName = s.timestampedName(archivePath, name)
	}
	if err := os.Rename(filepath.Join(dir, name), filepath.Join(archivePath, destName)); err != nil {
		return "", fmt.Errorf("moving %s to archive: %w", name, err)
	}

	return path.Join(t.Project, t.Discipline, t.Phase, archiveDir, destName), nil
}

// timestampedName returns <stem>_v<YYYYMMDD_HHMMSS><ext>, adding a counter if
// that name is taken too.
func (s *LocalStore) timestampedName(dir, name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	base := fmt.Sprintf("%s_v%s", stem, s.now().Format("20060102_150405"))
	candidate := base + ext
	for i := 2; ; i++ {
		if _, err := os.Lstat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
	}
}

// Open opens a stored file by its path relative to the uploads root.
func (s *LocalStore) Open(rel string) (*os.File, *models.FileInfo, error) {
	info, err := s.Stat(rel)
	if err != nil {
		return nil, nil, err
	}
	full, _ := s.resolve(rel)
	f, err := os.Open(full)
	if err != nil {
		return nil, nil, fmt.Errorf("opening file: %w", err)
	}
	return f, info, nil
}

// Stat returns metadata for a stored file.
func (s *LocalStore) Stat(rel string) (*models.FileInfo, error) {
	full, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	relSlash, _ := filepath.Rel(s.uploadDir, full)
	return newFileInfo(filepath.ToSlash(relSlash), fi)
}

// Tree lists projects, disciplines and phases with their live and archived
// files. A nil projects slice lists every project.
func (s *LocalStore) Tree(projects []string) ([]models.ProjectNode, error) {
	projectNames, err := subdirs(s.uploadDir)
	if err != nil {
		return nil, err
	}

	tree := make([]models.ProjectNode, 0, len(projectNames))
	for _, proj := range projectNames {
		if !allowed(proj, projects) {
			continue
		}
		pNode := models.ProjectNode{Name: proj, Disciplines: []models.DisciplineNode{}}
		discNames, err := subdirs(filepath.Join(s.uploadDir, proj))
		if err != nil {
			return nil, err
		}
		for _, disc := range discNames {
			dNode := models.DisciplineNode{Name: disc, Phases: []models.PhaseNode{}}
			phaseNames, err := subdirs(filepath.Join(s.uploadDir, proj, disc))
			if err != nil {
				return nil, err
			}
			for _, phase := range phaseNames {
				node, err := s.phaseNode(proj, disc, phase)
				if err != nil {
					return nil, err
				}
				dNode.Phases = append(dNode.Phases, node)
			}
			pNode.Disciplines = append(pNode.Disciplines, dNode)
		}
		tree = append(tree, pNode)
	}
	return tree, nil
}

func (s *LocalStore) phaseNode(proj, disc, phase string) (models.PhaseNode, error) {
	node := models.PhaseNode{Name: phase, Files: []*models.FileInfo{}, Archived: []*models.FileInfo{}}
	dir := filepath.Join(s.uploadDir, proj, disc, phase)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return node, fmt.Errorf("listing %s: %w", dir, err)
	}
	for _, e := range entries {
		rel := path.Join(proj, disc, phase, e.Name())
		if e.Type().IsRegular() {
			info, err := s.Stat(rel)
			if err != nil {
				return node, err
			}
			node.Files = append(node.Files, info)
			continue
		}
		if !e.IsDir() {
			continue
		}
		archived, err := os.ReadDir(filepath.Join(dir, e.Name()))
		if err != nil {
			return node, fmt.Errorf("listing archive %s: %w", e.Name(), err)
		}
		for _, a := range archived {
			if !a.Type().IsRegular() {
				continue
			}
			info, err := s.Stat(path.Join(rel, a.Name()))
			if err != nil {
				return node, err
			}
			node.Archived = append(node.Archived, info)
		}
	}
	return node, nil
}

// Search returns stored files, live or archived, whose name contains keyword
// case-insensitively. A nil projects slice searches every project.
func (s *LocalStore) Search(keyword string, projects []string) ([]*models.FileInfo, error) {
	needle := strings.ToLower(strings.TrimSpace(keyword))
	if needle == "" {
		return []*models.FileInfo{}, nil
	}

	results := []*models.FileInfo{}
	err := filepath.WalkDir(s.uploadDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(s.uploadDir, p)
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if depth(rel) == 1 && !allowed(rel, projects) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !strings.Contains(strings.ToLower(d.Name()), needle) {
			return nil
		}
		if n := depth(rel); n != 4 && n != 5 {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		info, err := newFileInfo(rel, fi)
		if err != nil {
			return nil
		}
		results = append(results, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching uploads: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})
	return results, nil
}

// SaveChunk saves a single chunk to a temporary location.
func (s *LocalStore) SaveChunk(uploadID string, chunkIndex int, r io.Reader) error {
	if chunkIndex < 0 {
		return fmt.Errorf("%w: negative chunk index", ErrInvalidPath)
	}
	chunkDir, err := s.chunkDir(uploadID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(chunkDir, 0755); err != nil {
		return fmt.Errorf("creating chunk directory: %w", err)
	}

	p := filepath.Join(chunkDir, fmt.Sprintf("chunk_%d", chunkIndex))
	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("creating chunk file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}
	return nil
}

// AssembleChunks concatenates all chunks of an upload into one staged file
// and returns its path and size. The chunks are removed afterwards.
func (s *LocalStore) AssembleChunks(uploadID string, totalChunks int) (string, int64, error) {
	chunkDir, err := s.chunkDir(uploadID)
	if err != nil {
		return "", 0, err
	}
	finalPath := filepath.Join(s.tempDir, "assembled_"+uploadID)

	out, err := os.Create(finalPath)
	if err != nil {
		return "", 0, fmt.Errorf("creating assembled file: %w", err)
	}
	defer out.Close()

	var totalSize int64
	for i := 0; i < totalChunks; i++ {
		in, err := os.Open(filepath.Join(chunkDir, fmt.Sprintf("chunk_%d", i)))
		if err != nil {
			os.Remove(finalPath)
			return "", 0, fmt.Errorf("opening chunk %d: %w", i, err)
		}
		n, err := io.Copy(out, in)
		in.Close()
		if err != nil {
			os.Remove(finalPath)
			return "", 0, fmt.Errorf("copying chunk %d: %w", i, err)
		}
		totalSize += n
	}

	os.RemoveAll(chunkDir)
	return finalPath, totalSize, nil
}

// DiscardChunks removes staged chunks and any assembled file of an upload.
func (s *LocalStore) DiscardChunks(uploadID string) error {
	chunkDir, err := s.chunkDir(uploadID)
	if err != nil {
		return err
	}
	os.Remove(filepath.Join(s.tempDir, "assembled_"+uploadID))
	return os.RemoveAll(chunkDir)
}

func (s *LocalStore) chunkDir(uploadID string) (string, error) {
	if _, err := uuid.Parse(uploadID); err != nil {
		return "", fmt.Errorf("%w: upload id %q", ErrInvalidPath, uploadID)
	}
	return filepath.Join(s.tempDir, "chunks", uploadID), nil
}

// resolve maps a slash-separated relative path to an absolute path inside the root.
func (s *LocalStore) resolve(rel string) (string, error) {
	if rel == "" || strings.Contains(rel, "\\") || strings.ContainsRune(rel, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	cleaned := path.Clean("/" + rel)[1:]
	if cleaned == "" || cleaned != strings.TrimSuffix(rel, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	if n := depth(cleaned); n != 4 && n != 5 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return filepath.Join(s.uploadDir, filepath.FromSlash(cleaned)), nil
}

func newFileInfo(rel string, fi fs.FileInfo) (*models.FileInfo, error) {
	parts := strings.Split(rel, "/")
	if len(parts) != 4 && len(parts) != 5 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return &models.FileInfo{
		Path:       rel,
		Name:       fi.Name(),
		Project:    parts[0],
		Discipline: parts[1],
		Phase:      parts[2],
		Size:       fi.Size(),
		ModifiedAt: fi.ModTime(),
		Archived:   len(parts) == 5,
		Kind:       models.KindOf(fi.Name()),
	}, nil
}

func validateComponent(c string) error {
	if c == "" || c == "." || c == ".." || strings.ContainsAny(c, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, c)
	}
	return nil
}

func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func allowed(project string, projects []string) bool {
	if projects == nil {
		return true
	}
	for _, p := range projects {
		if p == project {
			return true
		}
	}
	return false
}

func depth(rel string) int {
	if rel == "." || rel == "" {
		return 0
	}
	return strings.Count(rel, "/") + 1
}
