package authn

import (
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/hpcbridge/hpcbridge/pkg/gwerr"
)

// resolveAlgorithm picks the signature algorithm for a verification key.
//
// Priority: the key's declared "alg", then the configured override, then
// inference from key type and curve. Combinations outside the mapping are a
// hard construction error requiring explicit configuration.
func resolveAlgorithm(key jwk.Key, override string) (jwa.SignatureAlgorithm, error) {
	if alg := key.Algorithm(); alg != nil && alg.String() != "" {
		return jwa.SignatureAlgorithm(alg.String()), nil
	}
	if override != "" {
		return jwa.SignatureAlgorithm(override), nil
	}
	return inferAlgorithm(key)
}

func inferAlgorithm(key jwk.Key) (jwa.SignatureAlgorithm, error) {
	switch key.KeyType() {
	case jwa.RSA:
		return jwa.RS256, nil
	case jwa.OctetSeq:
		return jwa.HS256, nil
	case jwa.EC:
		return inferECAlgorithm(key)
	case jwa.OKP:
		if curveOf(key) == jwa.Ed25519.String() {
			return jwa.EdDSA, nil
		}
	}
	return "", gwerr.NewConfigError("auth.authentication.jwk_algorithm",
		"cannot infer signature algorithm for key %q (kty=%s, crv=%s); configure jwk_algorithm explicitly",
		key.KeyID(), key.KeyType(), curveOf(key))
}

func inferECAlgorithm(key jwk.Key) (jwa.SignatureAlgorithm, error) {
	switch curveOf(key) {
	case "", jwa.P256.String():
		return jwa.ES256, nil
	case jwa.P384.String():
		return jwa.ES384, nil
	case jwa.P521.String():
		return jwa.ES512, nil
	case "secp256k1": // jwa.Secp256k1 is only defined under the jwx_es256k build tag
		return jwa.ES256K, nil
	}
	return "", gwerr.NewConfigError("auth.authentication.jwk_algorithm",
		"cannot infer signature algorithm for EC key %q with curve %q; configure jwk_algorithm explicitly",
		key.KeyID(), curveOf(key))
}

func curveOf(key jwk.Key) string {
	if v, ok := key.Get(jwk.ECDSACrvKey); ok {
		if crv, ok := v.(jwa.EllipticCurveAlgorithm); ok {
			return crv.String()
		}
	}
	if v, ok := key.Get(jwk.OKPCrvKey); ok {
		if crv, ok := v.(jwa.EllipticCurveAlgorithm); ok {
			return crv.String()
		}
	}
	return ""
}
