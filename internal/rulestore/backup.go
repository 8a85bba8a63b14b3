package rulestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"net"
	"strings"
	"time"

	"github.com/wardfw/ward/internal/errors"
)

// CurrentSchemaVersion is written into every backup this Store produces.
// Restore accepts any blob whose version is <= this value.
const CurrentSchemaVersion uint16 = 1

const backupMagic = "WRD1"
const headerSize = 4 + 2 + 8 + sha256.Size + 4 // magic, version, timestamp, checksum, payload length

// ruleDTO is the on-disk shape of a Rule inside a backup, matching the
// remote-procedure Rule message in §6 field-for-field. It is unexported;
// the Control Service marshals RPCs with its own ctlplane.Rule type.
type ruleDTO struct {
	ID           string `json:"identifier"`
	Action       string `json:"action"`
	SrcIP        string `json:"src_ip"`
	DstIP        string `json:"dst_ip"`
	SrcPort      int32  `json:"src_port"`
	DstPort      int32  `json:"dst_port"`
	Protocol     string `json:"protocol"`
	Direction    string `json:"direction"`
	Priority     int32  `json:"priority"`
	Enabled      bool   `json:"enabled"`
	Description  string `json:"description"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
	GeoIPCountry string `json:"geoip_country"`
	RateLimit    int32  `json:"rate_limit"`
	LogLevel     string `json:"log_level"`
	Stateful     bool   `json:"stateful"`
}

func toDTO(r *Rule) ruleDTO {
	return ruleDTO{
		ID:           r.ID,
		Action:       r.Action,
		SrcIP:        r.SrcNet.String(),
		DstIP:        r.DstNet.String(),
		SrcPort:      int32(r.SrcPort),
		DstPort:      int32(r.DstPort),
		Protocol:     r.Protocol,
		Direction:    r.Direction,
		Priority:     r.Priority,
		Enabled:      r.Enabled,
		Description:  r.Description,
		CreatedAt:    r.CreatedAt.Unix(),
		UpdatedAt:    r.UpdatedAt.Unix(),
		GeoIPCountry: strings.Join(r.GeoIPCountry, ","),
		RateLimit:    r.RateLimit,
		LogLevel:     r.LogLevel,
		Stateful:     r.Stateful,
	}
}

func fromDTO(d ruleDTO) (*Rule, error) {
	_, srcNet, err := net.ParseCIDR(d.SrcIP)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "rule %s: parse src_ip", d.ID)
	}
	_, dstNet, err := net.ParseCIDR(d.DstIP)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "rule %s: parse dst_ip", d.ID)
	}
	var countries []string
	if d.GeoIPCountry != "" {
		countries = strings.Split(d.GeoIPCountry, ",")
	}
	return &Rule{
		ID:           d.ID,
		Action:       d.Action,
		SrcNet:       srcNet,
		DstNet:       dstNet,
		SrcPort:      uint16(d.SrcPort),
		DstPort:      uint16(d.DstPort),
		Protocol:     d.Protocol,
		Direction:    d.Direction,
		Priority:     d.Priority,
		Enabled:      d.Enabled,
		Description:  d.Description,
		CreatedAt:    time.Unix(d.CreatedAt, 0).UTC(),
		UpdatedAt:    time.Unix(d.UpdatedAt, 0).UTC(),
		GeoIPCountry: countries,
		RateLimit:    d.RateLimit,
		LogLevel:     d.LogLevel,
		Stateful:     d.Stateful,
	}, nil
}

// Backup serialises the full rule set into the binary format described in
// §4.5: a fixed header (magic, schema version, creation timestamp, SHA-256
// of the payload, payload length) followed by length-prefixed JSON rule
// records in priority order.
func (s *Store) Backup() ([]byte, error) {
	s.mu.Lock()
	snap := s.current
	s.mu.Unlock()

	var payload bytes.Buffer
	for _, r := range snap.ordered {
		encoded, err := json.Marshal(toDTO(r))
		if err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "marshal rule for backup")
		}
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(encoded)))
		payload.Write(lenBuf[:])
		payload.Write(encoded)
	}

	sum := sha256.Sum256(payload.Bytes())

	var out bytes.Buffer
	out.WriteString(backupMagic)
	var versionBuf [2]byte
	binary.LittleEndian.PutUint16(versionBuf[:], CurrentSchemaVersion)
	out.Write(versionBuf[:])
	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(time.Now().Unix()))
	out.Write(tsBuf[:])
	out.Write(sum[:])
	var payloadLenBuf [4]byte
	binary.LittleEndian.PutUint32(payloadLenBuf[:], uint32(payload.Len()))
	out.Write(payloadLenBuf[:])
	out.Write(payload.Bytes())
	return out.Bytes(), nil
}

// parseBackup validates the header and checksum and decodes the payload
// into a rule list, without touching the Store.
func parseBackup(blob []byte) ([]*Rule, error) {
	if len(blob) < headerSize {
		return nil, errors.Errorf(errors.KindValidation, "backup too short: %d bytes", len(blob))
	}
	if string(blob[0:4]) != backupMagic {
		return nil, errors.New(errors.KindValidation, "backup magic mismatch")
	}
	version := binary.LittleEndian.Uint16(blob[4:6])
	if version > CurrentSchemaVersion {
		return nil, errors.Errorf(errors.KindVersionIncompatible, "backup schema version %d newer than supported %d", version, CurrentSchemaVersion)
	}
	var checksum [sha256.Size]byte
	copy(checksum[:], blob[14:14+sha256.Size])
	payloadLen := binary.LittleEndian.Uint32(blob[14+sha256.Size : headerSize])
	payload := blob[headerSize:]
	if uint32(len(payload)) != payloadLen {
		return nil, errors.Errorf(errors.KindValidation, "backup payload length mismatch: header says %d, got %d", payloadLen, len(payload))
	}

	actual := sha256.Sum256(payload)
	if actual != checksum {
		return nil, errors.New(errors.KindChecksumMismatch, "backup checksum mismatch")
	}

	var rules []*Rule
	for off := 0; off < len(payload); {
		if off+4 > len(payload) {
			return nil, errors.New(errors.KindValidation, "backup payload truncated (record length)")
		}
		recLen := int(binary.LittleEndian.Uint32(payload[off : off+4]))
		off += 4
		if off+recLen > len(payload) {
			return nil, errors.New(errors.KindValidation, "backup payload truncated (record body)")
		}
		var dto ruleDTO
		if err := json.Unmarshal(payload[off:off+recLen], &dto); err != nil {
			return nil, errors.Wrap(err, errors.KindValidation, "decode rule record")
		}
		off += recLen
		rule, err := fromDTO(dto)
		if err != nil {
			return nil, err
		}
		if err := validate(rule); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Restore replaces the rule set from a backup blob. Per §4.5, it first
// validates that the blob parses cleanly (magic, schema version,
// checksum) and would not exceed capacity before any mutation; those
// checks apply regardless of force. force additionally bypasses the
// softer near-capacity warning threshold (90% of the store's configured
// capacity, the same watermark warnIfNearCapacity logs on Add): without
// it, a backup that
// would leave the store above that watermark is rejected so an operator
// can inspect it first; force=true restores it anyway.
func (s *Store) Restore(blob []byte, force bool) error {
	rules, err := parseBackup(blob)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(rules) > s.maxRules {
		return errors.Errorf(errors.KindCapacityExhausted, "backup contains %d rules, exceeds limit %d", len(rules), s.maxRules)
	}
	if !force && len(rules)*10 >= s.maxRules*9 {
		return errors.Errorf(errors.KindCapacityExhausted, "backup contains %d rules, at or above the near-capacity watermark; retry with force=true", len(rules))
	}

	next := &snapshot{byID: make(map[string]*Rule, len(rules))}
	next.ordered = append([]*Rule(nil), rules...)
	sortRules(next.ordered)
	for _, r := range next.ordered {
		next.byID[r.ID] = r
	}

	ids := make([]string, 0, len(s.current.byID)+len(next.byID))
	seen := make(map[string]bool)
	for id := range s.current.byID {
		ids = append(ids, id)
		seen[id] = true
	}
	for id := range next.byID {
		if !seen[id] {
			ids = append(ids, id)
		}
	}

	if err := s.reprojectRules(s.current, next, ids); err != nil {
		return err
	}
	s.current = next
	s.logger.Info("rule store restored", "rule_count", len(next.ordered))
	s.fire(ChangeNotice{Kind: "restore"})
	return nil
}
