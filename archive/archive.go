package archive

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/sat8bit/nexus/character"
	"github.com/sat8bit/nexus/message"
	"github.com/sat8bit/nexus/relationship"
	"github.com/sat8bit/nexus/renderer"
)

// Bundle はキャラクターとセッション状態をまとめた、書き出し・取り込みの単位です。
type Bundle struct {
	Prompt    string
	Character *character.Character
	State     *relationship.State
}

// InvalidBundleError は取り込んだパッケージが壊れているか、必須項目を欠いていることを表します。
type InvalidBundleError struct {
	Reason string
	Err    error
}

func (e *InvalidBundleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt package: %s: %v", e.Reason, e.Err)
	}
	return "corrupt package: " + e.Reason
}

func (e *InvalidBundleError) Unwrap() error { return e.Err }

var zipMagic = []byte("PK\x03\x04")

// IsBundle は data が取り込み可能なパッケージ（zip か JSON）に見えるかを返します。
func IsBundle(data []byte) bool {
	if bytes.HasPrefix(data, zipMagic) {
		return true
	}
	t := bytes.TrimSpace(data)
	return len(t) > 0 && t[0] == '{'
}

// Encode は Bundle を zip に書き出します。画像はカテゴリごとのディレクトリに置き、マニフェストからはパスで参照します。
func Encode(w io.Writer, b Bundle, now time.Time) error {
	if b.Character == nil {
		return errors.New("archive.Encode: nil character")
	}
	zw := zip.NewWriter(w)
	files := map[string][]byte{}
	put := func(name string, img character.ImageAsset) *ImageRef {
		if img.Empty() {
			return nil
		}
		name += extension(img.MIMEType)
		files[name] = img.Data
		return &ImageRef{Path: name, MIMEType: img.MIMEType}
	}

	m := buildManifest(b, now, put)
	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("archive.Encode: %w", err)
	}
	if err := writeFile(zw, manifestName, manifest); err != nil {
		return err
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writeFile(zw, name, files[name]); err != nil {
			return err
		}
	}

	if b.State != nil && len(b.State.ChatHistory) > 0 {
		t := renderer.Transcript(b.Character.Name, b.State.ChatHistory)
		if err := writeFile(zw, transcriptName, []byte(t)); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("archive.Encode: %w", err)
	}
	return nil
}

// MarshalManifest は画像をすべて base64 で埋め込んだ単体の JSON マニフェストを返します。
func MarshalManifest(b Bundle, now time.Time) ([]byte, error) {
	if b.Character == nil {
		return nil, errors.New("archive.MarshalManifest: nil character")
	}
	inline := func(_ string, img character.ImageAsset) *ImageRef {
		if img.Empty() {
			return nil
		}
		return &ImageRef{Data: base64.StdEncoding.EncodeToString(img.Data), MIMEType: img.MIMEType}
	}
	out, err := json.Marshal(buildManifest(b, now, inline))
	if err != nil {
		return nil, fmt.Errorf("archive.MarshalManifest: %w", err)
	}
	return out, nil
}

func buildManifest(b Bundle, now time.Time, put func(name string, img character.ImageAsset) *ImageRef) *Manifest {
	g := &b.Character.Gallery
	m := &Manifest{
		Version:    ManifestVersion,
		Prompt:     b.Prompt,
		ExportedAt: now,
		Character: CharacterManifest{
			Details: b.Character,
			Images: ImagesManifest{
				Main:          put("main", g.Main),
				Poses:         []ImageRef{},
				Wardrobe:      []ImageRef{},
				Modifications: []ImageRef{},
			},
		},
	}
	if g.Original != nil {
		m.Character.Images.Original = put("original", *g.Original)
	}
	for i, e := range character.PoseOrder {
		if p, ok := g.Poses[e]; ok {
			if ref := put(fmt.Sprintf("poses/%d-%s", i, e), p); ref != nil {
				m.Character.Images.Poses = append(m.Character.Images.Poses, *ref)
			}
		}
	}
	for i, img := range g.Wardrobe {
		if ref := put(fmt.Sprintf("wardrobe/%02d", i), img); ref != nil {
			m.Character.Images.Wardrobe = append(m.Character.Images.Wardrobe, *ref)
		}
	}
	for i, img := range g.Modifications {
		if ref := put(fmt.Sprintf("modifications/%02d", i), img); ref != nil {
			m.Character.Images.Modifications = append(m.Character.Images.Modifications, *ref)
		}
	}
	if b.State != nil {
		sm := stateManifest(b.State)
		for i, r := range b.State.Rewards {
			if r.Image != nil {
				sm.Rewards[i].Image = put("vault-memories/"+safeName(r.ID), *r.Image)
			}
		}
		raw, err := json.Marshal(sm)
		if err == nil {
			m.InteractiveState = raw
		}
	}
	return m
}

func stateManifest(s *relationship.State) StateManifest {
	sm := StateManifest{
		AffinityScore:      s.AffinityScore,
		NexusCredits:       s.Credits,
		Hunger:             s.Vitals.Hunger,
		Energy:             s.Vitals.Energy,
		Mood:               s.Vitals.Mood,
		BehaviorStats:      s.Disposition,
		RelationshipLevel:  s.Level(),
		RemovedApparel:     nonNil(s.RemovedApparel),
		CurrentEnvironment: s.Environment,
		MemoryBank:         nonNil(s.MemoryBank),
		ChatHistory:        s.ChatHistory,
		Inventory:          []string{},
		Rewards:            []RewardManifest{},
		ActiveQuest:        s.ActiveQuest,
		IsTTSEnabled:       s.TTSEnabled,
	}
	ids := make([]string, 0, len(s.Inventory))
	for id := range s.Inventory {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for n := 0; n < s.Inventory[id]; n++ {
			sm.Inventory = append(sm.Inventory, id)
		}
	}
	for _, r := range s.Rewards {
		sm.Rewards = append(sm.Rewards, RewardManifest{
			ID:          r.ID,
			Title:       r.Title,
			Description: r.Description,
			Prompt:      r.Prompt,
			Status:      r.Status,
			DateEarned:  r.EarnedAt.UTC().Format(time.RFC3339),
		})
	}
	return sm
}

// Decode は zip または JSON のパッケージを読み込みます。
// 途中で失敗した場合は何も返さず、*InvalidBundleError を返します。
func Decode(data []byte, cat *relationship.Catalog) (*Bundle, error) {
	var (
		raw   []byte
		files map[string]*zip.File
	)
	if bytes.HasPrefix(data, zipMagic) {
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, &InvalidBundleError{Reason: "unreadable archive", Err: err}
		}
		files = make(map[string]*zip.File, len(zr.File))
		var fallback string
		for _, f := range zr.File {
			files[f.Name] = f
			if fallback == "" && strings.HasSuffix(f.Name, ".json") {
				fallback = f.Name
			}
		}
		name := manifestName
		if _, ok := files[name]; !ok {
			name = fallback
		}
		if name == "" {
			return nil, &InvalidBundleError{Reason: "no manifest in archive"}
		}
		raw, err = readZipFile(files[name])
		if err != nil {
			return nil, &InvalidBundleError{Reason: "unreadable manifest", Err: err}
		}
	} else {
		raw = data
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &InvalidBundleError{Reason: "malformed manifest", Err: err}
	}
	if m.Character.Details == nil || strings.TrimSpace(m.Character.Details.Name) == "" {
		return nil, &InvalidBundleError{Reason: "missing character details"}
	}
	if m.Version > ManifestVersion {
		return nil, &InvalidBundleError{Reason: fmt.Sprintf("unsupported manifest version %d", m.Version)}
	}

	r := &resolver{files: files}
	ch := m.Character.Details
	ch.Gallery = character.Gallery{Poses: map[message.Emotion]character.ImageAsset{}}
	if err := r.gallery(&ch.Gallery, m.Character.Images); err != nil {
		return nil, err
	}

	state := relationship.New(cat)
	if len(m.InteractiveState) > 0 && string(m.InteractiveState) != "null" {
		sm := stateManifest(state)
		if err := json.Unmarshal(m.InteractiveState, &sm); err != nil {
			return nil, &InvalidBundleError{Reason: "malformed interactive state", Err: err}
		}
		if err := r.applyState(state, &ch.Gallery, sm); err != nil {
			return nil, err
		}
	}
	state.Normalize(cat, ch)

	prompt := m.Prompt
	if prompt == "" {
		prompt = "Imported Bundle"
	}
	return &Bundle{Prompt: prompt, Character: ch, State: state}, nil
}

type resolver struct {
	files map[string]*zip.File
}

func (r *resolver) image(ref ImageRef) (character.ImageAsset, error) {
	var data []byte
	mimeType := ref.MIMEType
	switch {
	case ref.Data != "":
		payload := ref.Data
		if strings.HasPrefix(payload, "data:") {
			head, body, ok := strings.Cut(payload, ",")
			if !ok {
				return character.ImageAsset{}, &InvalidBundleError{Reason: "malformed data URL"}
			}
			if mimeType == "" {
				mimeType = strings.TrimSuffix(strings.TrimPrefix(head, "data:"), ";base64")
			}
			payload = body
		}
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return character.ImageAsset{}, &InvalidBundleError{Reason: "malformed inline image", Err: err}
		}
		data = b
	case ref.Path != "":
		f, ok := r.files[path.Clean(ref.Path)]
		if !ok {
			return character.ImageAsset{}, &InvalidBundleError{Reason: fmt.Sprintf("missing asset %q", ref.Path)}
		}
		b, err := readZipFile(f)
		if err != nil {
			return character.ImageAsset{}, &InvalidBundleError{Reason: fmt.Sprintf("unreadable asset %q", ref.Path), Err: err}
		}
		data = b
	default:
		return character.ImageAsset{}, nil
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return character.ImageAsset{Data: data, MIMEType: mimeType}, nil
}

func (r *resolver) list(refs []ImageRef) ([]character.ImageAsset, error) {
	var out []character.ImageAsset
	for _, ref := range refs {
		img, err := r.image(ref)
		if err != nil {
			return nil, err
		}
		if !img.Empty() {
			out = append(out, img)
		}
	}
	return out, nil
}

func (r *resolver) gallery(g *character.Gallery, im ImagesManifest) error {
	if im.Main != nil {
		img, err := r.image(*im.Main)
		if err != nil {
			return err
		}
		g.Main = img
	}
	if im.Original != nil {
		img, err := r.image(*im.Original)
		if err != nil {
			return err
		}
		if !img.Empty() {
			g.Original = &img
		}
	}
	poses, err := r.list(im.Poses)
	if err != nil {
		return err
	}
	for i, p := range poses {
		if i >= len(character.PoseOrder) {
			break
		}
		g.Poses[character.PoseOrder[i]] = p
	}
	if g.Main.Empty() && len(poses) > 0 {
		g.Main = poses[0]
	}
	if g.Wardrobe, err = r.list(im.Wardrobe); err != nil {
		return err
	}
	costumes, err := r.list(im.Costumes)
	if err != nil {
		return err
	}
	g.Wardrobe = append(g.Wardrobe, costumes...)
	if g.Modifications, err = r.list(im.Modifications); err != nil {
		return err
	}
	return nil
}

func (r *resolver) applyState(s *relationship.State, g *character.Gallery, sm StateManifest) error {
	s.AffinityScore = sm.AffinityScore
	s.Credits = sm.NexusCredits
	s.Vitals = relationship.Vitals{Hunger: sm.Hunger, Energy: sm.Energy, Mood: sm.Mood}
	s.Disposition = sm.BehaviorStats
	s.RemovedApparel = sm.RemovedApparel
	s.Environment = sm.CurrentEnvironment
	s.MemoryBank = sm.MemoryBank
	s.ChatHistory = sm.ChatHistory
	s.ActiveQuest = sm.ActiveQuest
	s.TTSEnabled = sm.IsTTSEnabled
	s.Inventory = make(map[string]int, len(sm.Inventory))
	for _, id := range sm.Inventory {
		s.Inventory[id]++
	}

	s.Rewards = nil
	for _, rm := range sm.Rewards {
		rw := relationship.Reward{
			ID:          rm.ID,
			Title:       rm.Title,
			Description: rm.Description,
			Prompt:      rm.Prompt,
			Status:      rm.Status,
		}
		if rw.Status == "" {
			rw.Status = relationship.RewardLocked
		}
		if t, err := time.Parse(time.RFC3339, rm.DateEarned); err == nil {
			rw.EarnedAt = t
		}
		if rm.Image != nil {
			img, err := r.image(*rm.Image)
			if err != nil {
				return err
			}
			if !img.Empty() {
				rw.Image = &img
			}
		}
		s.Rewards = append(s.Rewards, rw)
	}

	// 旧形式ではギャラリーの一部を状態側に持っていました。
	wardrobe, err := r.list(sm.Wardrobe)
	if err != nil {
		return err
	}
	mods, err := r.list(sm.Modifications)
	if err != nil {
		return err
	}
	for _, img := range wardrobe {
		if !g.Contains(img) {
			g.Wardrobe = append(g.Wardrobe, img)
		}
	}
	for _, img := range mods {
		if !g.Contains(img) {
			g.Modifications = append(g.Modifications, img)
		}
	}
	return nil
}

func writeFile(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("archive.Encode: %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("archive.Encode: %s: %w", name, err)
	}
	return nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
