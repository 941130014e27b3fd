package document

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/policy"
	"github.com/protojour/authly/pkg/security"
	"github.com/protojour/authly/pkg/storage"
	"github.com/protojour/authly/pkg/types"
)

// nsEntry is one row of the compile-time namespace table (spec §4.5 phase
// 1): label -> (span it was declared at, kind, resolved ID). Service and
// Domain entries additionally carry the synthetic Namespace row key so
// that properties scoped to them can reference it as Property.NsKey.
type nsEntry struct {
	span   Span
	kind   types.NamespaceEntryKind
	id     id.Any
	rowKey uint64 // valid for Service/Domain only
}

// compiledProperty is one property resolved (or newly minted) during
// phase 2, keyed by owning scope label then property label.
type compiledProperty struct {
	key   uint64
	id    id.PropertyID
	kind  types.PropertyKind
	attrs map[string]compiledAttribute
}

type compiledAttribute struct {
	key uint64
	id  id.AttributeID
}

// compileCtx accumulates the namespace table, resolved properties, and the
// directory snapshot under construction, plus every error hit along the
// way. Nothing here is persisted until Compile returns a clean snapshot.
type compileCtx struct {
	dirKey uint64
	store  storage.Store
	deks   *security.DecryptedDeks

	namespace map[string]*nsEntry
	props     map[string]map[string]*compiledProperty

	// declaredProps/declaredAttrs track what this document itself declares
	// (scope -> property label, and "scope:property" -> attribute label),
	// separately from props' full history loaded from storage, so that
	// redeclaring an already-persisted property/attribute reuses its row
	// instead of erroring, while two declarations of the same label within
	// one document still do.
	declaredProps map[string]map[string]bool
	declaredAttrs map[string]map[string]bool

	errs []*DocError
	snap storage.DirectorySnapshot
}

// Compile runs the two-phase compiler over doc (spec §4.5): phase 1 seeds
// the namespace with every declared label, phase 2 resolves every
// reference against it, encrypts persona identifiers, compiles policy
// bodies, and emits a storage.DirectorySnapshot. Compilation is
// all-or-nothing: if any DocError was collected, Compile returns a nil
// snapshot and the full error list.
//
// IDs and synthetic row keys are reused from whatever currently occupies
// dirKey whenever a label matches, so that re-applying an equivalent
// document is idempotent and does not orphan foreign-key-style references
// held by rows the new snapshot still wants to keep (spec §8 property 2).
func Compile(doc *Document, dirKey uint64, store storage.Store, deks *security.DecryptedDeks) (*storage.DirectorySnapshot, []*DocError) {
	c := &compileCtx{
		dirKey:        dirKey,
		store:         store,
		deks:          deks,
		namespace:     map[string]*nsEntry{},
		props:         map[string]map[string]*compiledProperty{},
		declaredProps: map[string]map[string]bool{},
		declaredAttrs: map[string]map[string]bool{},
	}
	c.snap.DirKey = dirKey

	if err := c.seedBuiltins(); err != nil {
		c.fail(Span{}, ErrConstraintViolation, "loading builtin namespace: "+err.Error())
		return nil, c.errs
	}

	prev, err := c.loadPrevNamespace()
	if err != nil {
		c.fail(Span{}, ErrConstraintViolation, "loading existing namespace: "+err.Error())
		return nil, c.errs
	}

	c.validateSettings(doc)
	c.phase1(doc, prev)
	c.phase2(doc)

	if len(c.errs) > 0 {
		return nil, c.errs
	}
	return &c.snap, nil
}

func (c *compileCtx) fail(span Span, kind DocErrorKind, msg string) {
	c.errs = append(c.errs, &DocError{Span: span, Kind: kind, Msg: msg})
}

// mintKey draws a fresh, non-zero synthetic row key. Unlike ApplyDirectory
// Snapshot's own NextSequence fallback (used only when a caller writes a
// bare row with Key==0 outside the document compiler), the compiler must
// decide every new Namespace/Property/Attribute key itself: snapshot rows
// reference each other by key *before* the snapshot is ever handed to
// storage, so no row in the same compile can depend on a sequence counter
// that only advances inside ApplyDirectorySnapshot's transaction.
func mintKey() (uint64, error) {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		// Keep clear of pkg/id's reserved low range so a minted key can
		// never collide with a builtin property's reserved ID.
		if v := binary.BigEndian.Uint64(buf[:]); v >= 1<<20 {
			return v, nil
		}
	}
}

// seedBuiltins inserts the builtin property labels addressable from
// document source with their fixed reserved IDs (spec §4.5 phase 1).
func (c *compileCtx) seedBuiltins() error {
	for _, b := range id.AllBuiltins() {
		label, ok := b.Label()
		if !ok {
			continue
		}
		c.namespace[label] = &nsEntry{kind: types.NamespaceEntryBuiltin, id: b.ToPropertyID().Upcast()}
	}
	return nil
}

// loadPrevNamespace indexes every Namespace row currently scoped to
// dirKey by label, for ID/key reuse across Entity/Service/Domain/Policy
// declarations.
func (c *compileCtx) loadPrevNamespace() (map[string]*types.Namespace, error) {
	rows, err := c.store.ListNamespacesByDirectory(c.dirKey)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*types.Namespace, len(rows))
	for _, r := range rows {
		out[r.Label] = r
	}
	return out, nil
}

// validateSettings checks local-settings overrides are at least
// syntactically well-formed. Settings have no backing row in storage
// (spec §4.5's local-settings are a runtime atomic-swap concept, not a
// persisted directory row) so Compile only validates them here; the
// caller is responsible for applying doc.Settings to the running
// configuration once Compile succeeds.
func (c *compileCtx) validateSettings(doc *Document) {
	for k, v := range doc.Settings {
		if strings.TrimSpace(v) == "" {
			c.fail(Span{}, ErrInvalidSettingValue, "empty value for setting "+k)
		}
	}
}

// addNamespaceEntity inserts one Entity/Service/Domain/Policy label,
// reusing the prior row's ID and key when the label and kind both match,
// otherwise minting both fresh. Returns the resolved ID (zero Any on
// error, so callers may still proceed with subsequent declarations).
func (c *compileCtx) addNamespaceEntity(label Label, kind types.NamespaceEntryKind, mint func() id.Any, prev map[string]*types.Namespace) id.Any {
	if existing, ok := c.namespace[label.Value]; ok {
		c.fail(label.Span(), ErrNameDefinedMultipleTimes,
			fmt.Sprintf("%q already defined at %d:%d", label.Value, existing.span.Line, existing.span.Column))
		return id.Any{}
	}

	var entID id.Any
	var rowKey uint64
	if row, ok := prev[label.Value]; ok && row.EntryKind == kind {
		entID, rowKey = row.ID, row.Key
	} else {
		entID = mint()
		key, err := mintKey()
		if err != nil {
			c.fail(label.Span(), ErrConstraintViolation, "minting namespace key: "+err.Error())
			return id.Any{}
		}
		rowKey = key
	}

	c.namespace[label.Value] = &nsEntry{span: label.Span(), kind: kind, id: entID, rowKey: rowKey}
	c.snap.Namespaces = append(c.snap.Namespaces, &types.Namespace{
		Key: rowKey, DirKey: c.dirKey, ID: entID, Label: label.Value, EntryKind: kind,
	})
	return entID
}

// phase1 seeds the namespace with every declared persona/service/domain/
// policy label, flagging duplicates as they're added (spec §4.5 phase 1).
func (c *compileCtx) phase1(doc *Document, prev map[string]*types.Namespace) {
	for _, p := range doc.Personas {
		c.addNamespaceEntity(p.Label, types.NamespaceEntryEntity, func() id.Any { return id.Random[id.PersonaID]().Upcast() }, prev)
	}
	for _, s := range doc.Services {
		c.addNamespaceEntity(s.Label, types.NamespaceEntryService, func() id.Any { return id.Random[id.ServiceID]().Upcast() }, prev)
	}
	for _, d := range doc.Domains {
		c.addNamespaceEntity(d.Label, types.NamespaceEntryDomain, func() id.Any { return id.Random[id.DomainID]().Upcast() }, prev)
	}
	for _, p := range doc.Policies {
		c.addNamespaceEntity(p.Label, types.NamespaceEntryPolicy, func() id.Any { return id.Random[id.PolicyID]().Upcast() }, prev)
	}
}

// phase2 resolves every reference in the document against the namespace
// table seeded in phase1 and emits the rows of the directory snapshot
// (spec §4.5 phase 2).
func (c *compileCtx) phase2(doc *Document) {
	for _, s := range doc.Services {
		c.compileService(s)
	}
	for _, p := range doc.EntityProperties {
		c.compileProperty(p, types.PropertyKindEntity)
	}
	for _, p := range doc.ResourceProperties {
		c.compileProperty(p, types.PropertyKindResource)
	}
	for _, p := range doc.Personas {
		c.compilePersona(p)
	}
	for _, a := range doc.EntityAttrAssignments {
		c.compileAssignment(a)
	}
	for _, p := range doc.Policies {
		c.compilePolicy(p)
	}
	for _, b := range doc.PolicyBindings {
		c.compileBinding(b)
	}
}

func (c *compileCtx) compileService(s ServiceDecl) {
	entry, ok := c.namespace[s.Label.Value]
	if !ok || entry.kind != types.NamespaceEntryService {
		return // already reported by phase1 as a duplicate, or never happens
	}
	eid, err := id.DowncastService(entry.id)
	if err != nil {
		c.fail(s.Label.Span(), ErrConstraintViolation, "service label resolved to non-service ID: "+err.Error())
		return
	}
	hostsJSON, err := json.Marshal(s.Hosts)
	if err != nil {
		c.fail(s.Label.Span(), ErrConstraintViolation, "encoding hosts: "+err.Error())
		return
	}
	c.snap.Services = append(c.snap.Services, &types.Service{Eid: eid, DirKey: c.dirKey, HostsJSON: string(hostsJSON)})

	if s.K8sServiceAccount != "" {
		fp, nonce, ciph, err := security.EncryptObjIdent(c.deks, id.BuiltinK8sServiceAccount.ToPropertyID(), []byte(s.K8sServiceAccount))
		if err != nil {
			c.fail(s.Label.Span(), ErrConstraintViolation, "encrypting k8s-service-account: "+err.Error())
			return
		}
		c.snap.ObjIdents = append(c.snap.ObjIdents, &types.ObjIdent{
			ObjID: entry.id, PropKey: builtinPropKey(id.BuiltinK8sServiceAccount), Fingerprint: fp, Nonce: nonce, Ciph: ciph,
		})
	}
}

// resolveScope resolves a property/binding scope label to a Service or
// Domain namespace entry; any other kind (or no match at all) is a
// DocError (spec §4.5: "a property's scope must name a declared service
// or domain").
func (c *compileCtx) resolveScope(scope Label) (*nsEntry, bool) {
	entry, ok := c.namespace[scope.Value]
	if !ok {
		c.fail(scope.Span(), ErrUnresolvedNamespace, "undeclared scope: "+scope.Value)
		return nil, false
	}
	if entry.kind != types.NamespaceEntryService && entry.kind != types.NamespaceEntryDomain {
		c.fail(scope.Span(), ErrUnresolvedNamespace, "scope must be a service or domain: "+scope.Value)
		return nil, false
	}
	return entry, true
}

// propertiesOf returns (creating if necessary) the scope-local property
// cache for scope, loading prior Property rows under its Namespace key so
// labels already known keep their ID/key (spec §4.5 phase 2, mirroring
// the original's eprop_cache/rprop_cache).
func (c *compileCtx) propertiesOf(scope string, nsRowKey uint64) (map[string]*compiledProperty, error) {
	if m, ok := c.props[scope]; ok {
		return m, nil
	}
	rows, err := c.store.ListPropertiesByNamespace(nsRowKey)
	if err != nil {
		return nil, err
	}
	m := make(map[string]*compiledProperty, len(rows))
	for _, r := range rows {
		attrs, err := c.loadAttributes(r.Key)
		if err != nil {
			return nil, err
		}
		m[r.Label] = &compiledProperty{key: r.Key, id: r.ID, kind: r.Kind, attrs: attrs}
	}
	c.props[scope] = m
	return m, nil
}

func (c *compileCtx) loadAttributes(propKey uint64) (map[string]compiledAttribute, error) {
	rows, err := c.store.ListAttributesByProperty(propKey)
	if err != nil {
		return nil, err
	}
	out := make(map[string]compiledAttribute, len(rows))
	for _, r := range rows {
		out[r.Label] = compiledAttribute{key: r.Key, id: r.ID}
	}
	return out, nil
}

func (c *compileCtx) compileProperty(p PropertyDecl, kind types.PropertyKind) {
	scope, ok := c.resolveScope(p.Scope)
	if !ok {
		return
	}
	cache, err := c.propertiesOf(p.Scope.Value, scope.rowKey)
	if err != nil {
		c.fail(p.Label.Span(), ErrConstraintViolation, "loading properties: "+err.Error())
		return
	}

	declared := c.declaredProps[p.Scope.Value]
	if declared == nil {
		declared = map[string]bool{}
		c.declaredProps[p.Scope.Value] = declared
	}
	if declared[p.Label.Value] {
		c.fail(p.Label.Span(), ErrNameDefinedMultipleTimes, "property already defined: "+p.Scope.Value+":"+p.Label.Value)
		return
	}
	declared[p.Label.Value] = true

	cp, existed := cache[p.Label.Value]
	if !existed {
		cp, ok = c.newProperty(p.Label, kind)
		if !ok {
			return
		}
		cache[p.Label.Value] = cp
	}
	c.snap.Properties = append(c.snap.Properties, &types.Property{
		Key: cp.key, NsKey: scope.rowKey, ID: cp.id, Kind: kind, Label: p.Label.Value,
	})

	attrScope := p.Scope.Value + ":" + p.Label.Value
	declaredAttrs := c.declaredAttrs[attrScope]
	if declaredAttrs == nil {
		declaredAttrs = map[string]bool{}
		c.declaredAttrs[attrScope] = declaredAttrs
	}
	for _, a := range p.Attributes {
		if declaredAttrs[a.Value] {
			c.fail(a.Span(), ErrNameDefinedMultipleTimes, "attribute already defined: "+attrScope+":"+a.Value)
			continue
		}
		declaredAttrs[a.Value] = true

		ca, existed := cp.attrs[a.Value]
		if !existed {
			ca, ok = c.newAttribute(a)
			if !ok {
				continue
			}
			cp.attrs[a.Value] = ca
		}
		c.snap.Attributes = append(c.snap.Attributes, &types.Attribute{
			Key: ca.key, PropKey: cp.key, ID: ca.id, Label: a.Value,
		})
	}
}

func (c *compileCtx) newProperty(label Label, kind types.PropertyKind) (*compiledProperty, bool) {
	key, err := mintKey()
	if err != nil {
		c.fail(label.Span(), ErrConstraintViolation, "minting property key: "+err.Error())
		return nil, false
	}
	return &compiledProperty{key: key, id: id.Random[id.PropertyID](), kind: kind, attrs: map[string]compiledAttribute{}}, true
}

func (c *compileCtx) newAttribute(label Label) (compiledAttribute, bool) {
	key, err := mintKey()
	if err != nil {
		c.fail(label.Span(), ErrConstraintViolation, "minting attribute key: "+err.Error())
		return compiledAttribute{}, false
	}
	return compiledAttribute{key: key, id: id.Random[id.AttributeID]()}, true
}

// splitRef splits a "ns:prop" or "ns:prop:attr" reference.
func splitRef(s string) []string { return strings.Split(s, ":") }

// builtinPropKey derives the ObjIdent/ObjTextAttr PropKey for a builtin
// property. Builtins have no persisted Property row (no compiler-minted
// Key), so they're addressed directly by their reserved low-integer ID
// (id.BuiltinProperty.PropKey), which by construction (id.FromUint64's
// reservedMax guard) never collides with a compiler-minted Property.Key
// (always drawn from the full uint64 space above the reserved range).
func builtinPropKey(b id.BuiltinProperty) uint64 {
	return b.PropKey()
}

// resolveAttrRef resolves one fully-qualified "ns:prop:attr" reference
// against the already-compiled property cache.
func (c *compileCtx) resolveAttrRef(ref Label) (compiledAttribute, string, string, string, bool) {
	parts := splitRef(ref.Value)
	if len(parts) != 3 {
		c.fail(ref.Span(), ErrUnresolvedAttribute, "attribute reference must be ns:prop:attr: "+ref.Value)
		return compiledAttribute{}, "", "", "", false
	}
	ns, prop, attr := parts[0], parts[1], parts[2]
	scope, ok := c.namespace[ns]
	if !ok || (scope.kind != types.NamespaceEntryService && scope.kind != types.NamespaceEntryDomain) {
		c.fail(ref.Span(), ErrUnresolvedNamespace, "unresolved scope: "+ns)
		return compiledAttribute{}, ns, prop, attr, false
	}
	cache, err := c.propertiesOf(ns, scope.rowKey)
	if err != nil {
		c.fail(ref.Span(), ErrConstraintViolation, "loading properties: "+err.Error())
		return compiledAttribute{}, ns, prop, attr, false
	}
	cp, ok := cache[prop]
	if !ok {
		c.fail(ref.Span(), ErrUnresolvedProperty, "unresolved property: "+ns+":"+prop)
		return compiledAttribute{}, ns, prop, attr, false
	}
	ca, ok := cp.attrs[attr]
	if !ok {
		c.fail(ref.Span(), ErrUnresolvedAttribute, "unresolved attribute: "+ref.Value)
		return compiledAttribute{}, ns, prop, attr, false
	}
	return ca, ns, prop, attr, true
}

// compilePersona turns a persona's username/email/password-hash fields
// into encrypted ObjIdent rows under their builtin property (spec §4.2:
// "every identifier that can be used to look an entity up is stored as an
// encrypted ObjIdent keyed by its fingerprint").
func (c *compileCtx) compilePersona(p PersonaDecl) {
	entry, ok := c.namespace[p.Label.Value]
	if !ok || entry.kind != types.NamespaceEntryEntity {
		return
	}

	add := func(builtin id.BuiltinProperty, plaintext string) {
		if plaintext == "" {
			return
		}
		fp, nonce, ciph, err := security.EncryptObjIdent(c.deks, builtin.ToPropertyID(), []byte(plaintext))
		if err != nil {
			c.fail(p.Label.Span(), ErrConstraintViolation, "encrypting "+builtin.ToPropertyID().String()+": "+err.Error())
			return
		}
		c.snap.ObjIdents = append(c.snap.ObjIdents, &types.ObjIdent{
			ObjID: entry.id, PropKey: builtinPropKey(builtin), Fingerprint: fp, Nonce: nonce, Ciph: ciph,
		})
	}

	add(id.BuiltinUsername, p.Username)
	add(id.BuiltinEmail, p.Email)
	add(id.BuiltinPasswordHash, p.PasswordHash)
}

func (c *compileCtx) compileAssignment(a AssignmentDecl) {
	entry, ok := c.namespace[a.Entity.Value]
	if !ok {
		c.fail(a.Entity.Span(), ErrUnresolvedEntity, "unresolved entity: "+a.Entity.Value)
		return
	}
	for _, ref := range a.Attributes {
		ca, _, _, _, ok := c.resolveAttrRef(ref)
		if !ok {
			continue
		}
		c.snap.Assignments = append(c.snap.Assignments, &types.EntityAttrAssignment{Eid: entry.id, AttrKey: ca.key})
	}
}

func (c *compileCtx) compilePolicy(p PolicyDecl) {
	entry, ok := c.namespace[p.Label.Value]
	if !ok || entry.kind != types.NamespaceEntryPolicy {
		return
	}
	policyID, err := id.DowncastPolicy(entry.id)
	if err != nil {
		c.fail(p.Label.Span(), ErrConstraintViolation, "policy label resolved to non-policy ID: "+err.Error())
		return
	}

	hasAllow := p.Allow.Value != ""
	hasDeny := p.Deny.Value != ""
	if hasAllow == hasDeny {
		c.fail(p.Label.Span(), ErrAmbiguousPolicyOutcome, "policy must set exactly one of allow or deny")
		return
	}

	var source Label
	outcome := policy.Deny
	if hasAllow {
		source, outcome = p.Allow, policy.Allow
	} else {
		source, outcome = p.Deny, policy.Deny
	}
	if strings.TrimSpace(source.Value) == "" {
		c.fail(p.Label.Span(), ErrPolicyBodyMissing, "policy body is empty")
		return
	}

	resolver := &policyResolver{c: c}
	expr, code, _, perrs := policy.Compile(source.Value, outcome, resolver)
	if len(perrs) > 0 {
		for _, pe := range perrs {
			c.errs = append(c.errs, &DocError{Span: source.Span(), Kind: ErrPolicyCompile, Msg: pe.Error(), PolicyErr: pe})
		}
		return
	}

	ast, err := json.Marshal(expr)
	if err != nil {
		c.fail(p.Label.Span(), ErrConstraintViolation, "encoding policy AST: "+err.Error())
		return
	}
	c.snap.Policies = append(c.snap.Policies, &types.Policy{
		ID: policyID, DirKey: c.dirKey, Label: p.Label.Value, Source: source.Value, AST: ast, Code: code,
	})
}

func (c *compileCtx) compileBinding(b BindingDecl) {
	matchAttrs := make([]id.AttributeID, 0, len(b.Attributes))
	for _, ref := range b.Attributes {
		ca, _, _, _, ok := c.resolveAttrRef(ref)
		if !ok {
			continue
		}
		matchAttrs = append(matchAttrs, ca.id)
	}

	policyIDs := make([]id.PolicyID, 0, len(b.Policies))
	for _, label := range b.Policies {
		entry, ok := c.namespace[label.Value]
		if !ok || entry.kind != types.NamespaceEntryPolicy {
			c.fail(label.Span(), ErrUnresolvedPolicy, "unresolved policy: "+label.Value)
			continue
		}
		pid, err := id.DowncastPolicy(entry.id)
		if err != nil {
			c.fail(label.Span(), ErrConstraintViolation, "policy label resolved to non-policy ID: "+err.Error())
			continue
		}
		policyIDs = append(policyIDs, pid)
	}

	key, err := mintKey()
	if err != nil {
		c.fail(Span{}, ErrConstraintViolation, "minting binding key: "+err.Error())
		return
	}
	c.snap.Bindings = append(c.snap.Bindings, &types.PolicyBinding{Key: key, MatchAttrs: matchAttrs, PolicyIDs: policyIDs})
}

// policyResolver adapts compileCtx's in-progress namespace/property tables
// to pkg/policy's Resolver interface (spec §4.5 phase 2, step: "the policy
// DSL body is parsed and resolved against the same namespace table").
type policyResolver struct{ c *compileCtx }

func (r *policyResolver) ResolveLabel(label string) (id.Any, bool) {
	entry, ok := r.c.namespace[label]
	if !ok {
		return id.Any{}, false
	}
	switch entry.kind {
	case types.NamespaceEntryEntity, types.NamespaceEntryService, types.NamespaceEntryDomain:
		return entry.id, true
	default:
		return id.Any{}, false
	}
}

func (r *policyResolver) ResolveProperty(ns, prop string) (id.PropertyID, bool, bool) {
	if prop == "entity" {
		return id.BuiltinEntity.ToPropertyID(), true, true
	}
	scope, ok := r.c.namespace[ns]
	if !ok || (scope.kind != types.NamespaceEntryService && scope.kind != types.NamespaceEntryDomain) {
		return id.PropertyID{}, false, false
	}
	cache, err := r.c.propertiesOf(ns, scope.rowKey)
	if err != nil {
		return id.PropertyID{}, false, false
	}
	cp, ok := cache[prop]
	if !ok {
		return id.PropertyID{}, false, false
	}
	return cp.id, false, true
}

func (r *policyResolver) ResolveAttribute(ns, prop, attr string) (id.AttributeID, bool) {
	ref := Label{Value: ns + ":" + prop + ":" + attr}
	ca, _, _, _, ok := r.c.resolveAttrRef(ref)
	return ca.id, ok
}
