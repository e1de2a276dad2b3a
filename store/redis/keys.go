package redis

// Key prefixes for primary entity storage. Entities are stored as JSON
// blobs under prefix + TypeID, except schema versions which are keyed by
// (entity type, version).
const (
	prefixConnector = "loom:conn:"
	prefixLog       = "loom:ilog:"
	prefixVersion   = "loom:schv:" // + entityType + ":" + version
	prefixAttribute = "loom:attr:"
	prefixMapping   = "loom:cmap:"
	prefixEntity    = "loom:cent:"
	prefixJob       = "loom:job:"
	prefixHREntity  = "loom:hrent:"
	prefixFinEntity = "loom:finent:"
	prefixHRRecord  = "loom:hrrec:"
	prefixFinRecord = "loom:finrec:"
	prefixEventType = "loom:evtype:"
	prefixEvent     = "loom:evt:"
	prefixSub       = "loom:sub:"
	prefixDelivery  = "loom:del:"
	prefixDLQ       = "loom:dlq:"
)

// Key prefixes for unique indexes. Values are the owning entity's ID.
const (
	uniqueEventTypeName = "loom:u:evtype:name:"
	uniqueEventIdem     = "loom:u:evt:idem:"
	uniqueEntityKey     = "loom:u:cent:"   // + connID/entityType/externalID
	uniqueHRKey         = "loom:u:hrent:"  // + connID/externalID
	uniqueFinKey        = "loom:u:finent:" // + connID/externalID
)

// Key prefixes for sorted set indexes.
const (
	zConnAll        = "loom:z:conn:all"
	zLogAll         = "loom:z:ilog:all"
	zLogCorr        = "loom:z:ilog:corr:" // + correlation ID
	zVersionType    = "loom:z:schv:"      // + entity type, scored by version
	zAttrVersion    = "loom:z:attr:"      // + entityType + ":" + version
	zMappingVersion = "loom:z:cmap:"      // + connID + ":" + entityType + ":" + version, scored by priority
	zEntityAll      = "loom:z:cent:all"
	zJobAll         = "loom:z:job:all"
	zHRRecAll       = "loom:z:hrrec:all"
	zFinRecAll      = "loom:z:finrec:all"
	zEventTypeAll   = "loom:z:evtype:all"
	zEventTypeGroup = "loom:z:evtype:group:" // + group name
	zEventAll       = "loom:z:evt:all"
	zEventCorr      = "loom:z:evt:corr:" // + correlation ID
	zSubAll         = "loom:z:sub:all"
	zDeliveryDue    = "loom:z:del:due" // scored by next attempt time
	zDeliverySub    = "loom:z:del:sub:" // + subscription ID
	zDeliveryEvt    = "loom:z:del:evt:" // + event ID
	zDLQAll         = "loom:z:dlq:all" // scored by failure time
	zDLQSub         = "loom:z:dlq:sub:" // + subscription ID
)

// Key prefixes for set and counter indexes.
const (
	sSubDeliverable = "loom:s:sub:deliverable"

	// ctrSubFailures holds the authoritative consecutive failure counter
	// per subscription. Kept outside the JSON blob so concurrent bumps
	// can use INCR without a read-modify-write race.
	ctrSubFailures = "loom:ctr:sub:fail:" // + subscription ID
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

// compositeKey joins key segments with "/" for composite unique indexes.
func compositeKey(prefix string, parts ...string) string {
	key := prefix
	for i, p := range parts {
		if i > 0 {
			key += "/"
		}
		key += p
	}
	return key
}
