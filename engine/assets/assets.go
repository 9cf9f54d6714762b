package assets

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/kiln/engine/assets/loaders"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/resources"
)

type AssetInfo struct {
	Path       string
	Type       loaders.ResourceType
	LastLoaded time.Time
}

// AssetManager indexes an asset directory, loads textures into the
// resource registry and reloads them when their files change. The registry
// is only touched from Update, LoadTexture and Shutdown, which must run on
// the render thread; the watcher goroutine only queues paths.
type AssetManager struct {
	registry *resources.Registry
	dir      string

	assets   map[string]AssetInfo
	loaders  map[loaders.ResourceType]Loader
	textures map[string]resources.ImageHandle
	// paths changed on disk since the last Update
	dirty map[string]fsnotify.Op

	mutex sync.Mutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
}

func NewAssetManager(registry *resources.Registry) *AssetManager {
	am := &AssetManager{
		registry: registry,
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[loaders.ResourceType]Loader),
		textures: make(map[string]resources.ImageHandle),
		dirty:    make(map[string]fsnotify.Op),
	}
	// Register loaders
	am.registerLoader(loaders.ResourceTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(loaders.ResourceTypeImage, &loaders.TextureLoader{})
	return am
}

// Initialize indexes dir and, when watch is set, starts watching it and all
// sub-directories for changes.
func (am *AssetManager) Initialize(dir string, watch bool) error {
	am.dir = dir
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			core.LogWarn("asset directory %s does not exist", dir)
			return nil
		}
		return errors.Wrapf(err, "asset directory %s", dir)
	}

	if watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return errors.Wrap(err, "creating asset watcher")
		}
		am.fsnotify = w
		am.done = make(chan struct{})
		am.stopped = make(chan struct{})
		go am.start()
	}

	if err := am.watchRecursive(dir); err != nil {
		return err
	}
	core.LogInfo("asset manager indexed %d assets under %s (watch=%t)", am.Count(), dir, watch)
	return nil
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType loaders.ResourceType, loader Loader) {
	am.loaders[assetType] = loader
}

func (am *AssetManager) Count() int {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	return len(am.assets)
}

func (am *AssetManager) resolve(name string) string {
	if filepath.IsAbs(name) || am.dir == "" {
		return filepath.Clean(name)
	}
	return filepath.Join(am.dir, name)
}

// Load an asset using the loader registered for its extension.
func (am *AssetManager) LoadAsset(name string) (*loaders.Resource, error) {
	path := am.resolve(name)
	assetType := determineAssetType(path)
	loader, ok := am.loaders[assetType]
	if !ok {
		return nil, errors.Newf("no loader registered for %s", path)
	}

	res, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	am.mutex.Lock()
	am.assets[path] = AssetInfo{Path: path, Type: assetType, LastLoaded: time.Now()}
	am.mutex.Unlock()
	return res, nil
}

// LoadShader returns the SPIR-V words of a shader binary.
func (am *AssetManager) LoadShader(name string) ([]uint32, error) {
	res, err := am.LoadAsset(name)
	if err != nil {
		return nil, err
	}
	code, ok := res.Data.([]uint32)
	if !ok {
		return nil, errors.Newf("%s is not a shader", name)
	}
	return code, nil
}

// LoadTexture returns the registry image of a texture file, uploading it on
// first use. The manager keeps one reference; callers that keep the handle
// beyond the next Update must Ref it.
func (am *AssetManager) LoadTexture(name string) (resources.ImageHandle, error) {
	path := am.resolve(name)
	if h, ok := am.textures[path]; ok && am.registry.Contains(h) {
		return h, nil
	}
	h, err := am.uploadTexture(path)
	if err != nil {
		return resources.ImageHandle{}, err
	}
	am.textures[path] = h
	return h, nil
}

func (am *AssetManager) uploadTexture(path string) (resources.ImageHandle, error) {
	res, err := am.LoadAsset(path)
	if err != nil {
		return resources.ImageHandle{}, err
	}
	data, ok := res.Data.(*loaders.ImageResourceData)
	if !ok {
		return resources.ImageHandle{}, errors.Newf("%s is not an image", path)
	}

	desc := gpu.ImageDesc{
		Width:  data.Width,
		Height: data.Height,
		Format: gpu.FormatRGBA8Srgb,
		Usage:  gpu.ImageUsageSampled | gpu.ImageUsageTransferDst,
		Memory: gpu.MemoryDeviceLocal,
	}
	h := am.registry.CreateImage(resources.ImageCreateInfo{
		Desc: desc,
		Sampler: &gpu.SamplerDesc{
			MagFilter:     gpu.FilterLinear,
			MinFilter:     gpu.FilterLinear,
			AddressMode:   gpu.AddressRepeat,
			MaxAnisotropy: 16,
		},
	}, "texture/"+res.Name)
	am.registry.UploadToImage(h, resources.FullCopy(desc), data.Pixels)
	am.registry.TransitionLayout(h, gpu.LayoutShaderReadOnly,
		gpu.AccessTransferWrite, gpu.AccessShaderRead, gpu.StageTransfer, gpu.StageFragmentShader)
	return h, nil
}

// UnloadTexture drops the manager's reference. The image is destroyed once
// no frame holds it any more.
func (am *AssetManager) UnloadTexture(name string) {
	path := am.resolve(name)
	h, ok := am.textures[path]
	if !ok {
		return
	}
	delete(am.textures, path)
	if am.registry.Contains(h) {
		am.registry.Deref(h)
	}
}

// Update applies file changes queued by the watcher. Loaded textures that
// changed are uploaded again and the old image released; removed ones are
// unloaded. It returns the number of textures touched.
func (am *AssetManager) Update() int {
	am.mutex.Lock()
	dirty := am.dirty
	am.dirty = make(map[string]fsnotify.Op)
	am.mutex.Unlock()

	touched := 0
	for path, op := range dirty {
		old, loaded := am.textures[path]
		if !loaded {
			continue
		}
		if op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			core.LogInfo("texture %s removed, unloading", path)
			am.UnloadTexture(path)
			touched++
			continue
		}
		h, err := am.uploadTexture(path)
		if err != nil {
			core.LogWarn("reloading texture %s failed, keeping the previous one: %v", path, err)
			continue
		}
		am.textures[path] = h
		if am.registry.Contains(old) {
			am.registry.Deref(old)
		}
		core.LogInfo("texture %s reloaded", path)
		touched++
	}
	return touched
}

// Shutdown stops the watcher and releases every texture.
func (am *AssetManager) Shutdown() {
	if am.done != nil {
		close(am.done)
		<-am.stopped
		am.done = nil
	}
	for path := range am.textures {
		am.UnloadTexture(path)
	}
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s != nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := am.watchRecursive(e.Name); err != nil {
						core.LogWarn("watching %s: %v", e.Name, err)
					}
				}
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				am.handleFileEvent(e.Name)
			}
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				am.removeAsset(e.Name)
			}
			am.markDirty(filepath.Clean(e.Name), e.Op)

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %v", err)

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

// watchRecursive indexes every file under path and, when watching, adds
// each directory to the watch list.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if am.fsnotify != nil {
				if err := am.fsnotify.Add(walkPath); err != nil {
					return errors.Wrapf(err, "watching %s", walkPath)
				}
			}
			return nil
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

func (am *AssetManager) markDirty(path string, op fsnotify.Op) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.dirty[path] |= op
}

// Handle the creation or modification of a file
func (am *AssetManager) handleFileEvent(path string) {
	assetType := determineAssetType(path)
	if assetType == loaders.ResourceTypeNone {
		return
	}
	path = filepath.Clean(path)

	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.assets[path] = AssetInfo{
		Path: path,
		Type: assetType,
	}
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	delete(am.assets, filepath.Clean(path))
}

func determineAssetType(path string) loaders.ResourceType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".spv":
		return loaders.ResourceTypeShader
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return loaders.ResourceTypeImage
	default:
		return loaders.ResourceTypeNone
	}
}
