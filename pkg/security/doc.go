/*
Package security provides cryptographic services for EPU clusters.

This package implements two core security capabilities: AES-256-GCM encryption for
sensitive data (context broker rendezvous secrets, the CA's own private key) and a
Certificate Authority (CA) for mutual TLS (mTLS) between nodes, CLI clients, and the
RPC server. Together, these components provide confidentiality for in-flight secrets
and secure authentication for all control-plane communication.

# Architecture

The EPU control plane's security architecture is built on two pillars:

	┌─────────────────────────────────────────────────────────────┐
	│                    Security Architecture                    │
	└─────┬───────────────────────────────────────┬────────────────┘
	      │                                        │
	      ▼                                        ▼
	┌─────────────┐                      ┌──────────────────┐
	│  Encryption │                      │        CA        │
	│ (cluster    │                      │   (Root + leaf)   │
	│  key + GCM) │                      │                    │
	└─────┬───────┘                      └──────┬─────────────┘
	      │                                      │
	      ▼                                      ▼
	  AES-256-GCM                          RSA 4096-bit root
	  context secrets,                     10-year validity
	  CA private key

## Cluster Encryption Key

All encryption is rooted in the cluster encryption key, a 32-byte key derived
from the cluster ID during initialization:

	clusterKey = SHA-256(clusterID)  // 32 bytes for AES-256

This key encrypts the CA's private key before it is written to the store
(Encrypt/Decrypt). A SecretsManager, which seals context broker rendezvous
secrets (ContextInfo.Secret), carries its own key and does not use the
cluster key.

The key is held only in memory on node processes and must be re-derived from
the cluster ID (via DeriveKeyFromClusterID) when a process restarts or joins
an existing cluster.

# Secrets Encryption

## SecretsManager

The SecretsManager encrypts and decrypts data using AES-256 in Galois/Counter
Mode (GCM), providing authenticated encryption:

	Plaintext → AES-256-GCM → Ciphertext + Authentication Tag
	                ↑
	            32-byte key

Key features:
  - Authenticated encryption (integrity + confidentiality)
  - Random nonce per encryption (no nonce reuse)
  - Fast performance (~100MB/s on modern CPUs)

## Encryption Process

 1. Generate random 12-byte nonce
 2. Encrypt plaintext with AES-256-GCM
 3. Prepend nonce to ciphertext
 4. Store combined bytes: [nonce || ciphertext || tag]

This ensures each encryption has a unique nonce, preventing cryptographic attacks.

## Context Broker Secrets

When the Provisioner is given a SecretsManager, EncryptContextSecret seals a
launch's context broker rendezvous secret into ContextInfo.Secret before the
launch is persisted; without one, the secret is stored as the broker
returned it. DecryptContextSecret turns a sealed secret back into
plaintext; the OU agent uses it when publishing a node's identity.

Decryption reverses the encryption process:

 1. Extract nonce (first 12 bytes)
 2. Extract ciphertext + tag (remaining bytes)
 3. Decrypt and verify authentication tag
 4. Return plaintext or error if tampered

# Certificate Authority

## Root CA

EPU Management's CA uses a hierarchical structure with a long-lived root certificate:

	Root CA (self-signed)
	├── 10-year validity
	├── RSA 4096-bit key (high security)
	├── KeyUsage: CertSign, CRLSign
	└── Subject: CN=EPU Root CA, O=EPU Cluster

The root CA is created on first Initialize() and persisted via SaveToStore:

	Root Certificate: Stored via Store.SaveCA (plaintext, public)
	Root Private Key: Encrypted with the cluster key before storage

## Node Certificates

The CA issues certificates for EPU Controller and OU Agent node processes:

	Node Certificate
	├── 90-day validity
	├── RSA 2048-bit key (faster operations)
	├── KeyUsage: DigitalSignature, KeyEncipherment
	├── ExtKeyUsage: ServerAuth, ClientAuth
	├── Subject: CN={role}-{nodeID}, O=EPU Cluster
	├── DNS Names: [node hostname]
	└── IP Addresses: [node IP]

Each node receives a unique certificate for mutual TLS authentication:

	Node A ←→ mTLS ←→ Node B
	   ↓                  ↓
	CA verifies       CA verifies
	B's cert          A's cert

## Client Certificates

CLI clients also receive certificates for authentication, issued via
IssueClientCertificate:

	CLI Certificate
	├── 90-day validity
	├── KeyUsage: DigitalSignature, KeyEncipherment
	├── ExtKeyUsage: ClientAuth
	└── Subject: CN=cli-{clientID}, O=EPU Cluster

This allows secure CLI → node RPC communication without passwords.

# Usage Examples

## Creating a Secrets Manager

	import "github.com/luispineda/epu/pkg/security"

	// Method 1: From raw key (32 bytes)
	key := make([]byte, 32)
	_, err := rand.Read(key)
	if err != nil {
		panic(err)
	}

	sm, err := security.NewSecretsManager(key)
	if err != nil {
		panic(err)
	}

	// Method 2: From password (key derived via SHA-256)
	sm, err := security.NewSecretsManagerFromPassword("my-cluster-secret")
	if err != nil {
		panic(err)
	}

## Encrypting and Decrypting Data

	// Encrypt arbitrary plaintext
	plaintext := []byte("super-secret-value")
	ciphertext, err := sm.EncryptSecret(plaintext)
	if err != nil {
		panic(err)
	}

	// Store ciphertext...

	// Later, decrypt it
	decrypted, err := sm.DecryptSecret(ciphertext)
	if err != nil {
		panic(err)  // Tampering detected or wrong key
	}

	fmt.Println(string(decrypted))  // "super-secret-value"

## Encrypting a Launch's Context Secret

	ctxInfo := &types.ContextInfo{URI: rendezvousURI, ContextID: contextID}

	// Seal the rendezvous secret before the launch is persisted
	err := sm.EncryptContextSecret(ctxInfo, rawSecret)
	if err != nil {
		panic(err)
	}

	// Later, on the OU agent side
	secret, err := sm.DecryptContextSecret(ctxInfo)
	if err != nil {
		panic(err)
	}

## Setting the Cluster Encryption Key

	import (
		"github.com/luispineda/epu/pkg/security"
		"github.com/luispineda/epu/pkg/storage"
	)

	// Create storage backend
	store, err := storage.NewBoltStore("/var/lib/epu/node-1")
	if err != nil {
		panic(err)
	}

	// Derive and set the cluster encryption key (required before CA use)
	clusterKey := security.DeriveKeyFromClusterID(clusterID)
	err = security.SetClusterEncryptionKey(clusterKey)
	if err != nil {
		panic(err)
	}

	// Create and initialize the CA (generates a root CA on first run,
	// or loads an existing one from the store)
	ca := security.NewCertAuthority(store)
	if err := ca.LoadFromStore(); err != nil {
		err = ca.Initialize()
		if err != nil {
			panic(err)
		}
		err = ca.SaveToStore()
		if err != nil {
			panic(err)
		}
	}

## Issuing Node Certificates

	// Issue a certificate for a controller node
	nodeID := "controller-1"
	role := "controller"
	dnsNames := []string{"controller1.cluster.local", "localhost"}
	ipAddresses := []net.IP{
		net.ParseIP("192.168.1.10"),
		net.ParseIP("127.0.0.1"),
	}

	tlsCert, err := ca.IssueNodeCertificate(nodeID, role, dnsNames, ipAddresses)
	if err != nil {
		panic(err)
	}

	// Certificate ready to use for TLS
	fmt.Println("Certificate issued for:", nodeID)
	fmt.Println("Valid until:", tlsCert.Leaf.NotAfter)

## Issuing Client Certificates

	tlsCert, err := ca.IssueClientCertificate("cli-alice")
	if err != nil {
		panic(err)
	}

## Verifying Certificates

	// Load certificate from file or network
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		panic(err)
	}

	// Verify against the CA
	err = ca.VerifyCertificate(cert)
	if err != nil {
		// Certificate invalid or not issued by this CA
		panic(err)
	}

	fmt.Println("Certificate verified successfully")

## Certificate Rotation

	// Check if certificate needs rotation (< 30 days remaining)
	needsRotation := security.CertNeedsRotation(cert)

	if needsRotation {
		// Request new certificate from the CA
		newTLSCert, err := ca.IssueNodeCertificate(nodeID, role, dnsNames, ipAddresses)
		if err != nil {
			panic(err)
		}

		// Save new certificate
		certDir, _ := security.GetCertDir(role, nodeID)
		err = security.SaveCertToFile(newTLSCert, certDir)
		if err != nil {
			panic(err)
		}

		fmt.Println("Certificate rotated successfully")
	}

# Integration Points

## Storage Integration

The CA's root certificate and key are persisted via the Store interface, not
a security-owned bucket:

	Store.SaveCA(data) / Store.GetCA()
	data = {RootCertDER: [...], RootKeyDER: [...encrypted with cluster key...]}

## Node Integration

cmd/epu's node command coordinates security operations at startup:

  - SetClusterEncryptionKey(DeriveKeyFromClusterID(clusterID)) when --cluster-id is set
  - rpc.ServerTLSConfig(certDir) to build the RPC server's TLS config from
    certificate files already on disk, unless --insecure is set

The node command does not create, load or save a CertAuthority.

## RPC TLS Integration

All RPC traffic between the EPU Controller, OU Agent, and CLI can run over
mTLS with CA-issued certificates (see pkg/rpc):

	// Server-side (controller), loading cert + CA from the CertAuthority's cert dir
	tlsConfig, err := rpc.ServerTLSConfig(certDir)

	// Client-side (OU agent / CLI)
	tlsConfig, err := rpc.ClientTLSConfig(certDir)

This ensures:
  - All connections encrypted (TLS 1.2+)
  - Mutual authentication (both parties verified)
  - No unauthorized access (CA-signed certs required) when --insecure is not set

# Design Patterns

## Authenticated Encryption

GCM mode provides both confidentiality and integrity:

	Encryption:  plaintext + key + nonce → ciphertext + tag
	Decryption:  ciphertext + tag + key + nonce → plaintext (or error)

The authentication tag prevents tampering:
  - Modified ciphertext → decryption fails
  - Wrong key → decryption fails
  - Wrong nonce → decryption fails

This is critical for context secrets - we must detect tampering.

## Hierarchical PKI

The CA uses a standard hierarchical structure:

	Root CA (trust anchor)
	└── Node/Client Certificates (issued by root)

Benefits:
  - Root key rarely used (only for issuing certs)
  - Revocation via CRL/OCSP (future enhancement)

## Key Derivation

The cluster encryption key is derived deterministically:

	clusterKey = SHA-256(clusterID)

This means:
  - Same cluster ID → same key (important across restarts)
  - Key can be recomputed without storage
  - The cluster ID itself must be kept secret

## Certificate Caching

The CA caches issued certificates in memory via GetCachedCert/cacheCertificate:

	certCache[nodeID] = {Cert, Key, IssuedAt, ExpiresAt}

The cache is only read through GetCachedCert: every IssueNodeCertificate or
IssueClientCertificate call generates a new key and certificate (~50-100ms)
and replaces the cached entry for that ID.

# Performance Characteristics

## Encryption Performance

AES-256-GCM is hardware-accelerated on modern CPUs (AES-NI):

  - Encryption: ~100-200 MB/s per core
  - Decryption: ~100-200 MB/s per core
  - Small payloads (< 1KB): ~1-2μs per operation

Context secrets are small (a rendezvous token), so this is never a
bottleneck for launch provisioning.

## Certificate Issuance Performance

Certificate generation is more expensive:

  - Root CA generation (RSA 4096): ~500ms (one-time, at first Initialize)
  - Node cert generation (RSA 2048): ~50-100ms
  - Certificate verification: ~1-2ms

Recommendations:
  - Reuse a node's issued certificate (GetCachedCert or the saved files)
    rather than issuing a new one
  - Issue certificates at node startup, not on the request hot path

## Memory Usage

Security operations are memory-efficient:

  - SecretsManager: ~1KB (just the key)
  - CertAuthority: ~100KB (root cert + cache)
  - Per-node certificate: ~2KB

# Security Considerations

## Key Management

The cluster encryption key is critical:

  - Compromise = all context secrets and the CA private key exposed
  - Loss = cluster unrecoverable without the original cluster ID
  - The cluster ID must be treated as a secret, not just an identifier

## Certificate Rotation

Certificates expire after 90 days (nodes/clients) or 10 years (root CA):

  - Automatic rotation: not yet implemented
  - Manual rotation: issue a new certificate and write it with SaveCertToFile
  - Grace period: CertNeedsRotation flags certs with < 30 days remaining

## Threat Model

This security model protects against:

	✓ Network eavesdropping (TLS encryption)
	✓ Unauthorized access (mTLS authentication)
	✓ Context secret tampering (authenticated encryption)
	✓ Impersonation (CA-signed certificates)

It does NOT protect against:

	✗ Compromised cluster ID/encryption key (context secrets and CA key exposed)
	✗ Compromised CA private key (issue fake certificates)
	✗ Compromised node process (full access to that node's in-memory key material)
	✗ Physical access to storage without disk encryption

Defense in depth:
  - Encrypt storage volumes (LUKS, etc.)
  - Run with --insecure only for local development
  - Audit all security-relevant RPC operations

## Cryptographic Agility

the EPU control plane uses modern, proven cryptography:

  - AES-256-GCM (NIST approved, widely used)
  - RSA 2048/4096 (NIST approved, secure until ~2030)
  - SHA-256 (NIST approved, no known attacks)
  - TLS 1.2+ (industry standard)

# Troubleshooting

## Secret Decryption Failures

If decryption fails:

1. Check encryption key:
  - Ensure the cluster key is correct
  - Verify key derivation from the cluster ID
  - For the CA key, check that SetClusterEncryptionKey was called before
    LoadFromStore; DecryptSecret uses the SecretsManager's own key instead

2. Check for data corruption:
  - Verify ciphertext length (>= 28 bytes: 12 nonce + 16 tag)
  - Check storage backend integrity

3. Check for tampering:
  - GCM will detect any modification

## Certificate Verification Failures

If certificate verification fails:

1. Check CA consistency:
  - Ensure the CA loaded correctly (LoadFromStore vs Initialize)
  - Verify the root certificate matches across nodes

2. Check certificate validity:
  - Verify not expired (NotAfter > now)
  - Verify not used too early (NotBefore < now)

3. Check certificate content:
  - Verify DNS names match
  - Verify IP addresses match
  - Check key usage flags

# See Also

  - pkg/storage - Stores the CA's root certificate and private key
  - pkg/ouagent - Decrypts context rendezvous secrets on a node
  - pkg/rpc - Builds TLS configs from CA-issued certificates
*/
package security
