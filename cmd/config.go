package cmd

const DESCRIPTION = `
gepd controls read access to named data with group encryption. A group
manager grants members time-bounded decryption keys, producers encrypt
samples under per-hour content keys, and a local hub and repo carry the
packets between them.
`

const (
	HubDescription = `The hub command runs the local forwarder every other role
connects to. It listens on a unix socket (a named pipe on Windows)
and falls back to TCP.

Example:
        gepd hub

`
	RepoDescription = `The repo command runs the persistent packet store. Managers
insert key packets over TCP; prefixes listed under repo.serve are
answered from storage through the hub.

Example:
        gepd repo

`
	ManagerDescription = `The manager command runs the group manager. It answers
access requests under the access prefix by fetching the requester's
certificate, adding it as a member, replying, and publishing one
week of group keys into the repo.

Example:
        gepd --config gepd.yaml manager

`
	ProducerDescription = `The producer command runs a data producer. It creates the
content key for the configured slot, encrypts the payload under it
and serves both the data and the wrapped keys.

Example:
        gepd producer

`
	RequestDescription = `The request command sends one access request for the given
certificate name and prints the manager's reply.

Example:
        gepd request /org/openmhealth/alice/KEY/1a2b/ID-CERT

`
	FetchDescription = `The fetch command expresses one interest through the hub and
prints the data that answers it.

Example:
        gepd fetch /org/openmhealth/zhehao/SAMPLE/fitness/20160321T090000

`
	KeygenDescription = `The keygen command generates group keys for every slot of
one window without serving requests, pushes them into the repo and
shows progress until the repo has acknowledged each slot.

Example:
        gepd keygen --epoch 20160327T000000

`
)
