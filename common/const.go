package common

import "time"

// Method names the operation carried by a frame on the hub and repo
// connections.
type Method string

const (
	METHOD_REGISTER   Method = "register"
	METHOD_UNREGISTER Method = "unregister"
	METHOD_INTEREST   Method = "interest"
	METHOD_DATA       Method = "data"
	METHOD_INSERT     Method = "insert"
)

// Defaults for the group manager role.
const (
	DEF_GROUP_PREFIX        = "/org/openmhealth/zhehao"
	DEF_ACCESS_PREFIX       = "/org/openmhealth/zhehao/read_access_request"
	DEF_DATA_TYPE           = "fitness"
	DEF_SCHEDULE_NAME       = "schedule_name"
	DEF_MANAGER_DB          = "/tmp/manager-key.db"
	DEF_KEY_SIZE            = 2048
	DEF_GROUP_KEY_FRESHNESS = 1
	DEF_KEYGEN_EPOCH        = "20160320T000000"
	DEF_KEYGEN_WINDOW       = 168 * time.Hour
	DEF_KEYGEN_STEP         = time.Hour
	DEF_SCHEDULE_START      = "20160101T000000"
	DEF_SCHEDULE_END        = "20170101T000000"
	DEF_SCHEDULE_START_HOUR = 8
	DEF_SCHEDULE_END_HOUR   = 10
	DEF_RESPONSE_FRESHNESS  = 10 * time.Second
	DEF_CERT_FETCH_LIFETIME = time.Second
)

// Defaults for the producer role.
const (
	DEF_PRODUCER_PREFIX = "/org/openmhealth/zhehao"
	DEF_PRODUCER_DB     = "/tmp/producer-key.db"
	DEF_PRODUCER_SLOT   = "20160321T092000"
	DEF_REPEAT_ATTEMPTS = 3
)

// DEF_SAMPLE_CONTENT is the payload the producer encrypts when none is
// configured.
var DEF_SAMPLE_CONTENT = []byte{
	0xcb, 0xe5, 0x6a, 0x80, 0x41, 0x24, 0x58, 0x23,
	0x84, 0x14, 0x15, 0x61, 0x80, 0xb9, 0x5e, 0xbd,
	0xce, 0x32, 0xb4, 0xbe, 0xbc, 0x91, 0x31, 0xd6,
	0x19, 0x00, 0x80, 0x8b, 0xfa, 0x00, 0x05, 0x9c,
}

// Transport defaults.
const (
	TCPHost            = "localhost"
	DEF_HUB_PORT       = 6363
	DEF_REPO_HOST      = "localhost"
	DEF_REPO_PORT      = 7376
	DEF_ADMIN_PORT     = 6364
	DEF_MAX_HUB_CONNS  = 256
	DEF_SOCKET_NAME    = "gepd.sock"
	REPO_INSERT_PREFIX = "/localhost/repo-ng/insert"
)
